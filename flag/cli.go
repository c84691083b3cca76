package flag

// CLI is the command line of cpupolicy.
type CLI struct {
	Config   string `short:"c" type:"path" help:"TOML configuration file."`
	LogLevel string `name:"log-level" help:"Log level, overrides the configuration file."`
	Profile  string `type:"path" help:"Write a CPU profile into this directory."`

	Probe      ProbeCMD      `cmd:"" help:"Print the CPU policy of this host."`
	Export     ExportCMD     `cmd:"" help:"Write the host policy as a YAML document."`
	Check      CheckCMD      `cmd:"" help:"Check whether this host can run a guest policy."`
	VerifyHost VerifyHostCMD `cmd:"" name:"verify-host" help:"Check every CPU against the boot CPU."`
	SelfTest   SelfTestCMD   `cmd:"" name:"selftest" help:"Run the built-in policy scenarios."`
}

// ProbeCMD prints the host policy, or what KVM can expose.
type ProbeCMD struct {
	KVM  bool `help:"Report the policy KVM supports instead of the native one."`
	Raw  bool `help:"With --kvm, list the feature bits of KVM_GET_SUPPORTED_CPUID as is."`
	Caps bool `help:"Also list the KVM extensions policies rely on."`
}

// ExportCMD writes the host policy to a file or stdout.
type ExportCMD struct {
	Name   string `default:"host" help:"Name recorded in the document."`
	Output string `short:"o" type:"path" help:"Output file, stdout when empty."`
	KVM    bool   `help:"Export the policy KVM supports instead of the native one."`
}

// CheckCMD admits a policy document as a domain against the host policy.
type CheckCMD struct {
	File string `arg:"" type:"existingfile" help:"Policy document."`
}

// VerifyHostCMD compares the policy of every CPU with the boot CPU.
type VerifyHostCMD struct {
	CPUs string `name:"cpus" help:"CPU list such as 0-3,6. Defaults to the configuration."`
}

// SelfTestCMD runs the built-in scenarios.
type SelfTestCMD struct{}
