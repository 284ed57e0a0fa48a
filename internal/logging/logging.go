// Package logging builds the zerolog logger shared by every sensorpod component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	FormatJSON    = "json"
	FormatConsole = "console"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// Config contains logging configuration. Output is stdout, stderr or a file path.
type Config struct {
	Level   string `yaml:"level" mapstructure:"level"`
	Format  string `yaml:"format" mapstructure:"format"`
	Output  string `yaml:"output" mapstructure:"output"`
	Console bool   `yaml:"console" mapstructure:"console"` // mirror file output on stderr
	NoColor bool   `yaml:"no_color" mapstructure:"no_color"`
	Caller  bool   `yaml:"caller" mapstructure:"caller"`

	// Fallback is used when Output is a file that cannot be opened
	Fallback string `yaml:"fallback,omitempty" mapstructure:"fallback"`
}

// ApplyDefaults applies default values to logging configuration.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = FormatConsole
	}
	if c.Output == "" {
		c.Output = OutputStdout
	}
	c.Level = strings.ToLower(c.Level)
	c.Format = strings.ToLower(c.Format)
}

// Validate validates logging configuration.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil || c.Level == "" {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error, fatal (got: %s)", c.Level)
	}
	if c.Format != FormatJSON && c.Format != FormatConsole {
		return fmt.Errorf("logging.format must be one of [json console] (got: %s)", c.Format)
	}
	return nil
}

// New returns a logger tagged with service and a closer for the file output, if any
func New(cfg Config, service string) (zerolog.Logger, io.Closer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	level, _ := zerolog.ParseLevel(cfg.Level)

	out, closer, err := openOutput(cfg.Output)
	fellBack := false
	if err != nil && cfg.Fallback != "" {
		out, closer, err = openOutput(cfg.Fallback)
		fellBack = err == nil
	}
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var w io.Writer = out
	if cfg.Format == FormatConsole {
		w = consoleWriter(out, cfg.NoColor || closer != nil)
	}
	if cfg.Console && closer != nil {
		w = zerolog.MultiLevelWriter(w, consoleWriter(os.Stderr, cfg.NoColor))
	}

	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	l := ctx.Logger()
	if fellBack {
		l.Warn().Str("output", cfg.Output).Str("fallback", cfg.Fallback).Msg("logging: output not writable, using fallback")
	}
	if closer == nil {
		return l, nopCloser{}, nil
	}
	return l, closer, nil
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case OutputStdout:
		return os.Stdout, nil, nil
	case OutputStderr:
		return os.Stderr, nil, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: open %s: %w", output, err)
	}
	return f, f, nil
}

func consoleWriter(out io.Writer, noColor bool) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
		FormatFieldName: func(i interface{}) string {
			return fmt.Sprintf("%s:", i)
		},
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
