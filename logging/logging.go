// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Environment variables overriding the configured values.
const (
	EnvLogLevel  = "CPUPOLICY_LOG_LEVEL"
	EnvLogFormat = "CPUPOLICY_LOG_FORMAT"
)

// Structured field names shared by every package.
const (
	FieldLeaf    = "leaf"
	FieldSubleaf = "subleaf"
	FieldMSR     = "msr"
	FieldCPU     = "cpu"
	FieldDomain  = "domain"
)

// Environ returns level and format with the environment overrides applied.
func Environ(level, format string) (string, string) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		level = v
	}

	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		format = v
	}

	return level, format
}

// Configure sets level and format of the standard logger. Empty arguments
// keep logrus defaults.
func Configure(level, format string) error {
	return configure(logrus.StandardLogger(), os.Stderr, level, format)
}

func configure(l *logrus.Logger, out io.Writer, level, format string) error {
	l.SetOutput(out)

	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("log level: %w", err)
		}

		l.SetLevel(lvl)
	}

	switch strings.ToLower(format) {
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("log format %q, want text or json", format)
	}

	return nil
}

// Hex formats a leaf, subleaf or MSR index for a log field.
func Hex(v uint32) string {
	return fmt.Sprintf("%#x", v)
}
