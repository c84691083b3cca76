// Package vmm is the control path that creates domains and accepts migrating
// ones. Every guest policy is checked against the host policy before a
// domain is admitted.
package vmm

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bobuhiro11/cpupolicy/cpuid"
	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/bobuhiro11/cpupolicy/msr"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/sirupsen/logrus"
)

var (
	// ErrDomainExists is a domain name already in use.
	ErrDomainExists = errors.New("domain already exists")

	// ErrNoDomain is a domain name not in use.
	ErrNoDomain = errors.New("no such domain")

	errEmptyName = errors.New("empty domain name")
)

// Domain is an admitted guest and the policy it runs with.
type Domain struct {
	Name   string
	Policy *policy.Policy
}

// VMM admits domains against one host policy. Admissions are serialized.
type VMM struct {
	// Host is the policy guests are checked against. It is never modified.
	Host *policy.Policy

	mu      sync.Mutex
	domains map[string]*Domain
}

// New returns a VMM admitting guests against host.
func New(host *policy.Policy) *VMM {
	return &VMM{
		Host:    host,
		domains: map[string]*Domain{},
	}
}

// admit builds the sanitized guest policy from records and checks it against
// the host. Deserialization and compatibility errors are returned as is.
func (v *VMM) admit(leaves []cpuid.Leaf, msrs []msr.Entry) (*policy.Policy, error) {
	guest := &policy.Policy{}

	if err := policy.DeserializeCPUID(guest, leaves); err != nil {
		return nil, err
	}

	if err := policy.DeserializeMSRs(guest, msrs); err != nil {
		return nil, err
	}

	guest.ClearOutOfRange()

	if err := policy.CheckCompatible(v.Host, guest); err != nil {
		return nil, err
	}

	return guest, nil
}

// CreateDomain admits a domain called name with the policy carried by leaves
// and msrs.
func (v *VMM) CreateDomain(name string, leaves []cpuid.Leaf, msrs []msr.Entry) (*Domain, error) {
	if name == "" {
		return nil, errEmptyName
	}

	log := logrus.WithField(logging.FieldDomain, name)

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.domains[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDomainExists, name)
	}

	guest, err := v.admit(leaves, msrs)
	if err != nil {
		log.WithError(err).Info("vmm: domain refused")

		return nil, err
	}

	d := &Domain{Name: name, Policy: guest}
	v.domains[name] = d

	log.WithFields(logrus.Fields{
		"vendor": guest.Vendor(),
		"leaves": guest.NumLeaves(),
	}).Info("vmm: domain created")

	return d, nil
}

// Domain returns the domain called name.
func (v *VMM) Domain(name string) (*Domain, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	d, ok := v.domains[name]

	return d, ok
}

// Domains returns the names of all domains in order.
func (v *VMM) Domains() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	names := make([]string, 0, len(v.domains))
	for name := range v.domains {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Destroy removes the domain called name.
func (v *VMM) Destroy(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.domains[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNoDomain, name)
	}

	delete(v.domains, name)

	logrus.WithField(logging.FieldDomain, name).Info("vmm: domain destroyed")

	return nil
}
