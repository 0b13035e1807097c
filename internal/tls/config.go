// Package tls serves the jobletd API over HTTPS, generating a self-signed
// certificate on first start when asked to.
package tls

import "errors"

// File names used inside Config.Dir.
const (
	CACertFile = "tls_ca.crt"
	CertFile   = "tls.crt"
	KeyFile    = "tls.key"
)

// Config is the [server.tls] section.
type Config struct {
	Enabled bool `toml:"enabled" mapstructure:"enabled"`
	// CertFile and KeyFile take precedence over Dir.
	CertFile string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile  string `toml:"key_file" mapstructure:"key_file"`
	Dir      string `toml:"dir" mapstructure:"dir"`
	// AutoGenerate writes a self-signed pair into Dir when none exists.
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("server.tls: cert_file and key_file must be set together")
	}
	if c.CertFile == "" && c.Dir == "" {
		return errors.New("server.tls: either cert_file/key_file or dir is required")
	}
	if _, ok := parseVersion(c.MinVersion); !ok {
		return errors.New("server.tls: min_version must be 1.2 or 1.3")
	}
	return nil
}
