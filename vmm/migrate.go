package vmm

// migrate.go – policy migration: source (MigrateTo) and destination (Incoming).
//
// Source side (MigrateTo):
//  1. Send the header, CPUID records, MSR records and MsgDone.
//  2. Wait for MsgReady or MsgReject from the destination.
//  3. On MsgReady the domain has moved and is removed locally.
//
// Destination side (Incoming):
//  1. Receive the records.
//  2. Admit them exactly like CreateDomain.
//  3. Reply MsgReady, or MsgReject carrying the failure locator.

import (
	"errors"
	"fmt"
	"io"

	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/bobuhiro11/cpupolicy/migration"
	"github.com/sirupsen/logrus"
)

var errUnexpectedMessageType = errors.New("unexpected message type")

// MigrateTo sends the policy of domain name over rw and waits for the
// destination's verdict. A refusal is returned as a *migration.Rejection and
// leaves the domain in place.
func (v *VMM) MigrateTo(rw io.ReadWriter, name string) error {
	d, ok := v.Domain(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDomain, name)
	}

	log := logrus.WithField(logging.FieldDomain, name)
	log.Info("migration: sending policy")

	if err := migration.NewSender(rw).SendPolicy(name, d.Policy); err != nil {
		return fmt.Errorf("SendPolicy: %w", err)
	}

	msgType, payload, err := migration.NewReceiver(rw).Next()
	if err != nil {
		return fmt.Errorf("waiting for destination: %w", err)
	}

	switch msgType {
	case migration.MsgReady:
		log.Info("migration: destination accepted policy")

		return v.Destroy(name)

	case migration.MsgReject:
		rej, err := migration.DecodeReject(payload)
		if err != nil {
			return err
		}

		log.WithField("locator", rej.Locator()).Warn("migration: destination refused policy")

		return rej

	default:
		return fmt.Errorf("%w: %d", errUnexpectedMessageType, msgType)
	}
}

// Incoming receives a policy over rw and admits it as domain name, or under
// the name sent by the source when name is empty. The source is told the
// verdict either way.
func (v *VMM) Incoming(rw io.ReadWriter, name string) (*Domain, error) {
	h, leaves, msrs, err := migration.NewReceiver(rw).ReceivePolicy()
	if err != nil {
		return nil, fmt.Errorf("ReceivePolicy: %w", err)
	}

	if name == "" {
		name = h.Domain
	}

	sender := migration.NewSender(rw)

	d, err := v.CreateDomain(name, leaves, msrs)
	if err != nil {
		if serr := sender.SendReject(migration.NewRejection(err)); serr != nil {
			logrus.WithField(logging.FieldDomain, name).WithError(serr).Warn("migration: cannot send rejection")
		}

		return nil, err
	}

	if err := sender.SendReady(); err != nil {
		_ = v.Destroy(name)

		return nil, fmt.Errorf("SendReady: %w", err)
	}

	return d, nil
}
