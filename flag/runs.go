package flag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/bobuhiro11/cpupolicy/config"
	"github.com/bobuhiro11/cpupolicy/host"
	"github.com/bobuhiro11/cpupolicy/kvm"
	"github.com/bobuhiro11/cpupolicy/logging"
	"github.com/bobuhiro11/cpupolicy/policy"
	"github.com/bobuhiro11/cpupolicy/policyfile"
	"github.com/bobuhiro11/cpupolicy/probe"
	"github.com/bobuhiro11/cpupolicy/tools"
	"github.com/bobuhiro11/cpupolicy/vmm"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
)

var (
	// ErrIncompatible is returned by check when the host cannot run the guest.
	ErrIncompatible = errors.New("policy not supported by this host")

	// ErrHeterogeneous is returned by verify-host when CPUs differ.
	ErrHeterogeneous = errors.New("cpus differ from the boot cpu")

	// ErrSelfTest is returned when a built-in scenario fails.
	ErrSelfTest = errors.New("self test failed")

	errRawWithoutKVM = errors.New("--raw needs --kvm")
)

// Env is what every command runs with.
type Env struct {
	Config *config.Config
	Out    io.Writer
}

const (
	programName = "cpupolicy"
	programDesc = "cpupolicy inspects, exports and checks x86 CPU capability policies"
)

func newParser(c *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(c,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.Writers(out, out),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))
}

// Parse runs the command named by the process arguments.
func Parse() error {
	return Run(os.Args[1:], os.Stdout)
}

// Run parses args and runs the selected command, writing its report to out.
func Run(args []string, out io.Writer) error {
	c := CLI{}

	parser, err := newParser(&c, out)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	// The environment overrides the configuration file, the flag overrides
	// both.
	cfg.LogLevel, cfg.LogFormat = logging.Environ(cfg.LogLevel, cfg.LogFormat)

	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}

	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	if c.Profile != "" {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(c.Profile), profile.Quiet).Stop()
	}

	return ctx.Run(&Env{Config: cfg, Out: out})
}

// hostPolicy returns the native host policy, or the one KVM supports.
func (e *Env) hostPolicy(fromKVM bool) (*policy.Policy, error) {
	if !fromKVM {
		return host.New(e.Config).Policy()
	}

	var p *policy.Policy

	err := e.withKVM(func(fd uintptr) error {
		var err error
		p, err = kvm.HostPolicy(fd)

		return err
	})

	return p, err
}

// withKVM runs fn with the configured KVM device open.
func (e *Env) withKVM(fn func(fd uintptr) error) error {
	f, err := kvm.Open(e.Config.KVMDevice)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(f.Fd())
}

func (d *ProbeCMD) Run(e *Env) error {
	if d.Raw && !d.KVM {
		return errRawWithoutKVM
	}

	if d.Raw {
		if err := e.withKVM(func(fd uintptr) error { return probe.KVM(e.Out, fd) }); err != nil {
			return err
		}
	} else {
		p, err := e.hostPolicy(d.KVM)
		if err != nil {
			return err
		}

		probe.Host(e.Out, p)
	}

	if !d.Caps {
		return nil
	}

	return e.withKVM(func(fd uintptr) error { return probe.KVMCapabilities(e.Out, fd) })
}

func (d *ExportCMD) Run(e *Env) error {
	p, err := e.hostPolicy(d.KVM)
	if err != nil {
		return err
	}

	w := e.Out

	if d.Output != "" {
		f, err := os.Create(d.Output)
		if err != nil {
			return err
		}
		defer f.Close()

		w = f
	}

	return policyfile.FromPolicy(d.Name, p).Write(w)
}

func (d *CheckCMD) Run(e *Env) error {
	doc, err := policyfile.Load(d.File)
	if err != nil {
		return err
	}

	leaves, msrs, err := doc.Records()
	if err != nil {
		return err
	}

	h, err := e.hostPolicy(false)
	if err != nil {
		return err
	}

	name := doc.Name
	if name == "" {
		name = filepath.Base(d.File)
	}

	_, err = vmm.New(h).CreateDomain(name, leaves, msrs)

	switch {
	case errors.Is(err, policy.ErrIncompatible):
		fmt.Fprintf(e.Out, "%s: incompatible at %v\n", name, policy.LocatorOf(err))

		return fmt.Errorf("%w: %w", ErrIncompatible, err)
	case err != nil:
		return err
	}

	fmt.Fprintf(e.Out, "%s: compatible\n", name)

	return nil
}

func (d *VerifyHostCMD) Run(e *Env) error {
	cpus, err := ParseCPUs(d.CPUs)
	if err != nil {
		return err
	}

	h := host.New(e.Config)

	boot, err := h.Policy()
	if err != nil {
		return err
	}

	mismatches, err := h.Verify(context.Background(), boot, cpus)
	if err != nil {
		return err
	}

	for _, m := range mismatches {
		fmt.Fprintln(e.Out, m)
	}

	if len(mismatches) > 0 {
		return fmt.Errorf("%w: %d cpus", ErrHeterogeneous, len(mismatches))
	}

	logrus.Info("verify-host: all cpus match the boot cpu")

	return nil
}

func (d *SelfTestCMD) Run(e *Env) error {
	if n := tools.SelfTest(e.Out); n > 0 {
		return fmt.Errorf("%w: %d scenarios", ErrSelfTest, n)
	}

	return nil
}
