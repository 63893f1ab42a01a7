package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Fixtures
// =============================================================================

// writePair generates a real self-signed ECDSA pair on disk.
func writePair(t *testing.T, certPath, keyPath, commonName string, dnsNames []string, ips []net.IP, notAfter time.Time) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(filepath.Dir(certPath), 0o755))
	require.NoError(t, os.WriteFile(certPath,
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644))
	require.NoError(t, os.WriteFile(keyPath,
		pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600))
}

// fakeRunner stands in for external tooling: invocations are recorded, and
// the openssl/certbot paths emit real key material so validation is genuine.
type fakeRunner struct {
	t           *testing.T
	commands    [][]string
	haveCertbot bool
	certbotErr  error
	acmeLiveDir string
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	switch {
	case name == "openssl":
		return "/usr/bin/openssl", nil
	case name == "certbot" && f.haveCertbot:
		return "/usr/bin/certbot", nil
	}
	return "", errors.New("executable not found")
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	f.commands = append(f.commands, append([]string{name}, args...))

	switch name {
	case "openssl":
		f.runOpenSSL(args)
		return "", nil
	case "certbot":
		if f.certbotErr != nil {
			return "challenge failed", f.certbotErr
		}
		f.runCertbot(args)
		return "", nil
	}
	return "", errors.New("unexpected tool: " + name)
}

func (f *fakeRunner) runOpenSSL(args []string) {
	var certPath, keyPath, cn string
	var dnsNames []string
	var ips []net.IP

	for i, arg := range args {
		switch arg {
		case "-out":
			certPath = args[i+1]
		case "-keyout":
			keyPath = args[i+1]
		case "-subj":
			cn = strings.TrimPrefix(args[i+1], "/CN=")
		case "-addext":
			san := strings.TrimPrefix(args[i+1], "subjectAltName=")
			for _, entry := range strings.Split(san, ",") {
				switch {
				case strings.HasPrefix(entry, "DNS:"):
					dnsNames = append(dnsNames, strings.TrimPrefix(entry, "DNS:"))
				case strings.HasPrefix(entry, "IP:"):
					ips = append(ips, net.ParseIP(strings.TrimPrefix(entry, "IP:")))
				}
			}
		}
	}
	writePair(f.t, certPath, keyPath, cn, dnsNames, ips, time.Now().Add(365*24*time.Hour))
}

func (f *fakeRunner) runCertbot(args []string) {
	var domainName string
	for i, arg := range args {
		if arg == "-d" {
			domainName = args[i+1]
		}
	}
	live := filepath.Join(f.acmeLiveDir, domainName)
	writePair(f.t,
		filepath.Join(live, "fullchain.pem"),
		filepath.Join(live, "privkey.pem"),
		domainName, []string{domainName}, nil, time.Now().Add(90*24*time.Hour))
}

func (f *fakeRunner) invoked(tool string) int {
	count := 0
	for _, cmd := range f.commands {
		if cmd[0] == tool {
			count++
		}
	}
	return count
}

func newTestProvisioner(t *testing.T, cfg Config, runner *fakeRunner) *Provisioner {
	t.Helper()
	if cfg.SSLPath == "" {
		cfg.SSLPath = t.TempDir()
	}
	if runner.acmeLiveDir == "" {
		runner.acmeLiveDir = t.TempDir()
	}
	cfg.ACMELiveDir = runner.acmeLiveDir
	runner.t = t

	p := NewProvisioner(cfg, runner, nil, nil)
	p.resolves = func(string) bool { return false }
	return p
}

// =============================================================================
// Cascade Tests
// =============================================================================

func TestProvision_GeneratesThenReuses(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestProvisioner(t, Config{}, runner)

	first, err := p.Provision(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySelfSigned, first.Strategy)
	assert.Equal(t, 1, runner.invoked("openssl"))

	// Second run must reuse the pair without regenerating.
	second, err := p.Provision(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyReuse, second.Strategy)
	assert.Equal(t, 1, runner.invoked("openssl"), "reuse must not regenerate")
	assert.Equal(t, first.CertPath, second.CertPath)
}

func TestProvision_LoopbackNeverReachesPublicCA(t *testing.T) {
	for _, name := range []string{"localhost", "127.0.0.1", "app.localhost", "box.local"} {
		runner := &fakeRunner{haveCertbot: true}
		p := newTestProvisioner(t, Config{}, runner)
		p.resolves = func(string) bool { return true } // even if DNS would resolve

		bundle, err := p.Provision(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, domain.StrategySelfSigned, bundle.Strategy, name)
		assert.Zero(t, runner.invoked("certbot"), "loopback domain %s must not reach the ACME tool", name)
	}
}

func TestProvision_PostGenerationValidates(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestProvisioner(t, Config{}, runner)

	bundle, err := p.Provision(context.Background(), "localhost")
	require.NoError(t, err)

	validator := NewValidator(nil)
	assert.True(t, validator.Validate(bundle, "localhost"))
	assert.False(t, bundle.NotAfter.IsZero(), "bundle metadata must come from the generated pair")
}

func TestProvision_InvalidExistingPairQuarantined(t *testing.T) {
	runner := &fakeRunner{}
	sslPath := t.TempDir()
	p := newTestProvisioner(t, Config{SSLPath: sslPath}, runner)

	certPath := filepath.Join(sslPath, "server.crt")
	keyPath := filepath.Join(sslPath, "server.key")
	require.NoError(t, os.WriteFile(certPath, []byte("not a certificate"), 0o644))
	require.NoError(t, os.WriteFile(keyPath, []byte("not a key"), 0o600))

	bundle, err := p.Provision(context.Background(), "localhost")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySelfSigned, bundle.Strategy)

	// The rejected material is renamed aside, never deleted.
	quarantined, err := filepath.Glob(certPath + ".invalid.*")
	require.NoError(t, err)
	require.NotEmpty(t, quarantined, "invalid certificate must be quarantined")
	content, err := os.ReadFile(quarantined[0])
	require.NoError(t, err)
	assert.Equal(t, "not a certificate", string(content))
}

func TestProvision_ConsolidatesLegacyPair(t *testing.T) {
	legacyDir := t.TempDir()
	legacy := PairPath{
		Cert: filepath.Join(legacyDir, "old.crt"),
		Key:  filepath.Join(legacyDir, "old.key"),
	}
	writePair(t, legacy.Cert, legacy.Key, "example.com",
		[]string{"example.com"}, nil, time.Now().Add(180*24*time.Hour))

	runner := &fakeRunner{}
	p := newTestProvisioner(t, Config{LegacyPaths: []PairPath{
		{Cert: "/nonexistent/a.crt", Key: "/nonexistent/a.key"},
		legacy,
	}}, runner)

	bundle, err := p.Provision(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyConsolidate, bundle.Strategy)
	assert.Zero(t, runner.invoked("openssl"), "a consolidated pair must not trigger generation")

	info, err := os.Stat(bundle.KeyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestProvision_PublicCAForResolvableDomain(t *testing.T) {
	runner := &fakeRunner{haveCertbot: true}
	p := newTestProvisioner(t, Config{}, runner)
	p.resolves = func(string) bool { return true }

	bundle, err := p.Provision(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyPublicCA, bundle.Strategy)
	assert.Equal(t, 1, runner.invoked("certbot"))
}

func TestProvision_PublicCAFailureFallsBackToSelfSigned(t *testing.T) {
	runner := &fakeRunner{haveCertbot: true, certbotErr: errors.New("rate limited")}
	p := newTestProvisioner(t, Config{}, runner)
	p.resolves = func(string) bool { return true }

	bundle, err := p.Provision(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySelfSigned, bundle.Strategy)

	// The self-signed pair still covers the domain plus local aliases.
	validator := NewValidator(nil)
	assert.True(t, validator.Validate(bundle, "example.com"))
	assert.True(t, validator.Validate(bundle, "localhost"))
}

func TestProvision_UnresolvableDomainSkipsPublicCA(t *testing.T) {
	runner := &fakeRunner{haveCertbot: true}
	p := newTestProvisioner(t, Config{}, runner)

	bundle, err := p.Provision(context.Background(), "nowhere.example.invalid")
	require.NoError(t, err)
	assert.Equal(t, domain.StrategySelfSigned, bundle.Strategy)
	assert.Zero(t, runner.invoked("certbot"))
}

func TestProvision_ExistingModeFailsWithoutMaterial(t *testing.T) {
	runner := &fakeRunner{}
	p := newTestProvisioner(t, Config{Mode: domain.SSLModeExisting}, runner)

	_, err := p.Provision(context.Background(), "localhost")
	assert.ErrorIs(t, err, domain.ErrNoValidCertificate)
	assert.Zero(t, runner.invoked("openssl"), "existing mode must never generate")
}

// =============================================================================
// Validator Tests
// =============================================================================

func TestValidate_WrongDomainFails(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	writePair(t, certPath, keyPath, "example.com",
		[]string{"example.com"}, nil, time.Now().Add(time.Hour*24*90))

	validator := NewValidator(nil)
	bundle := domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath}
	assert.True(t, validator.Validate(bundle, "example.com"))
	assert.False(t, validator.Validate(bundle, "other.org"))
}

func TestValidate_ExpiredFails(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	writePair(t, certPath, keyPath, "example.com",
		[]string{"example.com"}, nil, time.Now().Add(-24*time.Hour))

	validator := NewValidator(nil)
	bundle := domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath}
	assert.False(t, validator.Validate(bundle, "example.com"))
}

func TestValidate_MissingFilesFailQuietly(t *testing.T) {
	validator := NewValidator(nil)
	bundle := domain.CertificateBundle{CertPath: "/nonexistent.crt", KeyPath: "/nonexistent.key"}
	assert.False(t, validator.Validate(bundle, "example.com"))
}

func TestExpiration_RenewalWindow(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	writePair(t, certPath, keyPath, "example.com",
		[]string{"example.com"}, nil, time.Now().Add(5*24*time.Hour))

	validator := NewValidator(nil)
	check, ok := validator.Expiration(domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath})
	require.True(t, ok)
	assert.Equal(t, domain.ExpirationRenewNow, check.Status)
}
