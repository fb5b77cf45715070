package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile describes one target RADIUS server: how to reach it over SSH, which
// ports and secret to use for RADIUS exchanges, and the preamble commands run
// before any scenario step.
type Profile struct {
	Name     string            `yaml:"name"               json:"name" jsonschema:"required"`
	Host     string            `yaml:"host"               json:"host" jsonschema:"required"`
	SSH      SSHConfig         `yaml:"ssh,omitempty"      json:"ssh,omitempty"`
	Radius   RadiusConfig      `yaml:"radius"             json:"radius" jsonschema:"required"`
	Database *DatabaseConfig   `yaml:"database,omitempty" json:"database,omitempty"`
	Preamble []PreambleCommand `yaml:"preamble,omitempty" json:"preamble,omitempty"`
}

// SSHConfig holds the SSH endpoint and credential for the preamble session.
type SSHConfig struct {
	Port     int    `yaml:"port,omitempty"     json:"port,omitempty"`
	User     string `yaml:"user,omitempty"     json:"user,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
}

// RadiusConfig holds the RADIUS ports and default shared secret.
type RadiusConfig struct {
	AuthPort int    `yaml:"auth_port,omitempty" json:"auth_port,omitempty"`
	AcctPort int    `yaml:"acct_port,omitempty" json:"acct_port,omitempty"`
	Secret   string `yaml:"secret"              json:"secret" jsonschema:"required"`
}

// DatabaseConfig is the connection string for sql steps against the target
// server's subscriber database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" json:"dsn" jsonschema:"required"`
}

// PreambleCommand is one SSH command run before the scenario starts.
// Disabled commands are skipped. When ExpectOutput is set, the command fails
// unless the substring appears in stdout or stderr.
type PreambleCommand struct {
	Command      string `yaml:"command"                 json:"command" jsonschema:"required"`
	Enabled      *bool  `yaml:"enabled,omitempty"       json:"enabled,omitempty"`
	ExpectOutput string `yaml:"expect_output,omitempty" json:"expect_output,omitempty"`
}

// IsEnabled reports whether the command should run. Commands are enabled
// unless explicitly disabled.
func (c PreambleCommand) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SSHPort returns the configured SSH port, defaulting to 22.
func (p *Profile) SSHPort() int {
	if p.SSH.Port > 0 {
		return p.SSH.Port
	}
	return 22
}

// AuthPort returns the configured auth port, defaulting to 1812.
func (p *Profile) AuthPort() int {
	if p.Radius.AuthPort > 0 {
		return p.Radius.AuthPort
	}
	return 1812
}

// AcctPort returns the configured accounting port, defaulting to 1813.
func (p *Profile) AcctPort() int {
	if p.Radius.AcctPort > 0 {
		return p.Radius.AcctPort
	}
	return 1813
}

// LoadProfileFile reads and parses a server profile YAML file.
func LoadProfileFile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()
	return LoadProfile(f)
}

// LoadProfile parses a profile from an io.Reader with strict unknown-field
// rejection.
func LoadProfile(r io.Reader) (*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}
