package tls

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func parseVersion(v string) (uint16, bool) {
	switch v {
	case "", "1.3", "TLS1.3", "tls1.3":
		return tls.VersionTLS13, true
	case "1.2", "TLS1.2", "tls1.2":
		return tls.VersionTLS12, true
	default:
		return 0, false
	}
}

// Setup returns the server TLS configuration, or nil when TLS is disabled.
// Certificates are re-read on every handshake so a rotated pair is picked
// up without a restart.
func Setup(cfg Config) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	certPath, keyPath := cfg.CertFile, cfg.KeyFile
	if certPath == "" {
		certPath = filepath.Join(cfg.Dir, CertFile)
		keyPath = filepath.Join(cfg.Dir, KeyFile)
		if cfg.AutoGenerate && !exists(certPath) && !exists(keyPath) {
			if err := generate(cfg); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}
	// Fail at startup rather than on the first handshake.
	if _, err := tls.LoadX509KeyPair(certPath, keyPath); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}
	minVer, _ := parseVersion(cfg.MinVersion)
	return &tls.Config{
		MinVersion: minVer,
		GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			return &cert, err
		},
	}, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func generate(cfg Config) error {
	days := cfg.ValidDays
	if days <= 0 {
		days = 365
	}
	dns := cfg.DNSNames
	if len(dns) == 0 {
		dns = []string{"localhost"}
	}
	ips := cfg.IPAddresses
	if len(ips) == 0 {
		ips = []string{"127.0.0.1", "::1"}
	}
	cn := cfg.CommonName
	if cn == "" {
		cn = "localhost"
	}
	return GenerateSelfSigned(CertConfig{
		CommonName:  cn,
		DNSNames:    dns,
		IPAddresses: ips,
		NotAfter:    time.Now().AddDate(0, 0, days),
		Dir:         cfg.Dir,
	})
}
