// Package config loads and validates the external configuration record
// spec.md §6 treats as a collaborator delivered to the core engine: run
// mode, listen addresses, TLS/WebSocket options, passwords, and the
// socket-tuning booleans. Config loading itself is explicitly out of
// scope for the hard core (spec.md §1), but the glue still needs a real
// home — this package is it, using gopkg.in/yaml.v3 the way the teacher
// repository's own top-level dependency set expects configuration files
// to be read.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/relayforge/trojan"
)

// RunType selects client or server mode.
type RunType string

const (
	RunClient RunType = "client"
	RunServer RunType = "server"
)

// TLS carries the pre-built credential material and negotiation
// preferences. Certificate loading and the root-certificate store are
// themselves out of scope (spec.md §1): Cert/Key here are file paths an
// external collaborator is expected to have validated; this package does
// not read them, cmd/trojan loads them via tls.LoadX509KeyPair.
type TLS struct {
	Cert string   `yaml:"cert"`
	Key  string   `yaml:"key"`
	SNI  string   `yaml:"sni"`
	ALPN []string `yaml:"alpn"`
}

// WebSocket carries the optional WebSocket sub-framing settings
// (spec.md §4.7, §6).
type WebSocket struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Hostname string `yaml:"hostname"`
}

// Protocol selects the outbound/inbound transport variant a client uses
// (spec.md §6).
type Protocol string

const (
	ProtocolTCPTLS  Protocol = "tcp-tls"
	ProtocolQUIC    Protocol = "quic"
	ProtocolLiteTLS Protocol = "lite-tls"
)

// Config is the frozen, read-only snapshot shared across every connection
// (spec.md §3's Context). It is never mutated after Load returns.
type Config struct {
	RunType RunType `yaml:"run_type"`

	// Server mode
	Listen       string `yaml:"listen"`
	FallbackPort int    `yaml:"fallback_port"`

	// Client mode
	LocalAddr  string `yaml:"local_addr"`
	LocalPort  int    `yaml:"local_port"`
	RemoteAddr string `yaml:"remote_addr"`
	RemotePort int    `yaml:"remote_port"`

	Passwords []string `yaml:"password"`
	Protocol  Protocol `yaml:"protocol"`
	TLSConfig TLS      `yaml:"tls"`
	WebSocket *WebSocket `yaml:"websocket"`

	FastOpen     bool `yaml:"fast_open"`
	TCPKeepAlive bool `yaml:"tcp_keepalive"`
	ZeroCopy     bool `yaml:"zero_copy"`

	// Credentials is derived from Passwords at Load time (spec.md §3):
	// hashing happens exactly once, and nothing downstream ever touches
	// the plaintext passwords again.
	Credentials trojan.CredentialSet `yaml:"-"`
}

// Load reads and validates a YAML configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Credentials = trojan.NewCredentialSet(cfg.Passwords)
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RunType {
	case RunClient, RunServer:
	default:
		return fmt.Errorf("config: run_type must be %q or %q, got %q", RunClient, RunServer, c.RunType)
	}
	if len(c.Passwords) == 0 {
		return fmt.Errorf("config: at least one password is required")
	}
	switch c.Protocol {
	case ProtocolTCPTLS, ProtocolQUIC, ProtocolLiteTLS:
	default:
		return fmt.Errorf("config: protocol must be one of tcp-tls|quic|lite-tls, got %q", c.Protocol)
	}
	if c.RunType == RunServer && c.Listen == "" {
		return fmt.Errorf("config: server mode requires listen")
	}
	if c.RunType == RunClient {
		if c.RemoteAddr == "" || c.RemotePort == 0 {
			return fmt.Errorf("config: client mode requires remote_addr and remote_port")
		}
		if c.LocalPort == 0 {
			return fmt.Errorf("config: client mode requires local_port")
		}
	}
	return nil
}

// SOCKS5Port is the port the client binds its SOCKS5 listener on: always
// local_port+1, per spec.md §6's parenthetical and the original source's
// literal "port + 1" (see SPEC_FULL.md supplemented feature #2).
func (c *Config) SOCKS5Port() int {
	return c.LocalPort + 1
}
