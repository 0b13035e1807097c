package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	cfg, err := Setup(Config{})
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestValidate(t *testing.T) {
	cases := map[string]Config{
		"no material": {Enabled: true},
		"cert only":   {Enabled: true, CertFile: "/a.crt"},
		"bad version": {Enabled: true, Dir: "/d", MinVersion: "1.0"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, c.Validate())
		})
	}
	assert.NoError(t, Config{Enabled: true, Dir: "/d", MinVersion: "1.2"}.Validate())
	assert.NoError(t, Config{}.Validate())
}

func TestSetupAutoGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tls")
	cfg, err := Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true, MinVersion: "1.2"})
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	cert, err := cfg.GetCertificate(nil)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	info, err := os.Stat(filepath.Join(dir, KeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(filepath.Join(dir, CACertFile))
	require.NoError(t, err)
	block, _ := pem.Decode(data)
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "localhost", parsed.Subject.CommonName)
	assert.Contains(t, parsed.DNSNames, "localhost")

	// an existing pair is reused
	before, err := os.ReadFile(filepath.Join(dir, CertFile))
	require.NoError(t, err)
	_, err = Setup(Config{Enabled: true, Dir: dir, AutoGenerate: true})
	require.NoError(t, err)
	after, err := os.ReadFile(filepath.Join(dir, CertFile))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetupMissingFiles(t *testing.T) {
	_, err := Setup(Config{Enabled: true, Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestSetupExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenerateSelfSigned(CertConfig{CommonName: "svc", Dir: dir, NotAfter: time.Now().Add(24 * time.Hour)}))
	cfg, err := Setup(Config{
		Enabled:  true,
		CertFile: filepath.Join(dir, CertFile),
		KeyFile:  filepath.Join(dir, KeyFile),
	})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
}
