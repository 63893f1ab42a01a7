package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

// testPair generates a self-signed certificate and key for test input.
func testPair(t *testing.T, cn string, dnsNames []string, ips []net.IP, notAfter time.Time) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		DNSNames:     dnsNames,
		IPAddresses:  ips,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

// =============================================================================
// Inspect Tests
// =============================================================================

func TestInspect_ValidPair(t *testing.T) {
	notAfter := time.Now().Add(90 * 24 * time.Hour)
	certPEM, keyPEM := testPair(t, "example.com", []string{"example.com", "www.example.com"}, nil, notAfter)

	info, err := Inspect(certPEM, keyPEM)
	require.NoError(t, err)
	assert.Equal(t, "example.com", info.Subject)
	assert.Contains(t, info.DNSNames, "www.example.com")
	assert.WithinDuration(t, notAfter, info.NotAfter, time.Minute)
}

func TestInspect_KeyMismatch(t *testing.T) {
	certPEM, _ := testPair(t, "a.example", nil, nil, time.Now().Add(time.Hour))
	_, otherKey := testPair(t, "b.example", nil, nil, time.Now().Add(time.Hour))

	_, err := Inspect(certPEM, otherKey)
	assert.ErrorIs(t, err, ErrKeyMismatch)
}

func TestInspect_NotPEM(t *testing.T) {
	_, err := Inspect([]byte("garbage"), []byte("garbage"))
	assert.ErrorIs(t, err, ErrNotPEM)
}

func TestInspect_KeyWhereCertExpected(t *testing.T) {
	_, keyPEM := testPair(t, "a.example", nil, nil, time.Now().Add(time.Hour))
	_, err := Inspect(keyPEM, keyPEM)
	assert.ErrorIs(t, err, ErrNotCertificate)
}

// =============================================================================
// CoversDomain Tests
// =============================================================================

func TestCoversDomain(t *testing.T) {
	info := &Info{
		Subject:  "app.example.com",
		DNSNames: []string{"app.example.com", "localhost"},
		IPs:      []string{"127.0.0.1"},
	}

	tests := []struct {
		name     string
		domain   string
		expected bool
	}{
		{"exact subject", "app.example.com", true},
		{"case folded", "APP.Example.COM", true},
		{"san entry", "localhost", true},
		{"ip san", "127.0.0.1", true},
		{"absent", "other.example.org", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CoversDomain(info, tt.domain))
		})
	}
}

func TestCoversDomain_NilInfo(t *testing.T) {
	assert.False(t, CoversDomain(nil, "example.com"))
}

// =============================================================================
// CheckExpiration Tests
// =============================================================================

func TestCheckExpiration(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		notAfter time.Time
		status   domain.ExpirationStatus
	}{
		{"expired yesterday", now.Add(-24 * time.Hour), domain.ExpirationExpired},
		{"expires today", now.Add(6 * time.Hour), domain.ExpirationExpired},
		{"five days left", now.Add(5 * 24 * time.Hour), domain.ExpirationRenewNow},
		{"three weeks left", now.Add(21 * 24 * time.Hour), domain.ExpirationRenewSoon},
		{"ninety days left", now.Add(90 * 24 * time.Hour), domain.ExpirationValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := CheckExpiration(tt.notAfter, now)
			assert.Equal(t, tt.status, check.Status)
		})
	}
}

func TestCheckExpiration_DaysRemaining(t *testing.T) {
	now := time.Now()
	check := CheckExpiration(now.Add(10*24*time.Hour+time.Hour), now)
	assert.Equal(t, 10, check.DaysRemaining)
}

// =============================================================================
// IsLocalDomain Tests
// =============================================================================

func TestIsLocalDomain(t *testing.T) {
	assert.True(t, IsLocalDomain("localhost"))
	assert.True(t, IsLocalDomain("127.0.0.1"))
	assert.True(t, IsLocalDomain("::1"))
	assert.True(t, IsLocalDomain("app.localhost"))
	assert.True(t, IsLocalDomain("printer.local"))
	assert.True(t, IsLocalDomain(" LOCALHOST "))

	assert.False(t, IsLocalDomain("example.com"))
	assert.False(t, IsLocalDomain("localhost.example.com"))
}
