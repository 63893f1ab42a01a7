// Package certs contains pure certificate decision logic: structural
// inspection of PEM pairs, domain coverage, and expiry classification.
// All functions here take bytes or parsed values - file I/O and external
// tooling live in internal/shell/certs.
package certs

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"time"

	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrNotPEM         = errors.New("input is not PEM encoded")
	ErrNotCertificate = errors.New("PEM block is not a certificate")
	ErrNotPrivateKey  = errors.New("PEM block is not a private key")
	ErrKeyMismatch    = errors.New("private key does not match certificate")
	ErrUnsupportedKey = errors.New("unsupported private key type")
)

// =============================================================================
// Bundle Inspection
// =============================================================================

// Info is the parsed view of a certificate pair used by validation.
type Info struct {
	Subject   string
	Issuer    string
	DNSNames  []string
	IPs       []string
	NotBefore time.Time
	NotAfter  time.Time
}

// Inspect parses a PEM certificate and key pair, verifies the key matches
// the certificate, and returns the fields validation cares about.
func Inspect(certPEM, keyPEM []byte) (*Info, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, err
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}

	if err := matchKey(cert, key); err != nil {
		return nil, err
	}

	info := &Info{
		Subject:   cert.Subject.CommonName,
		Issuer:    cert.Issuer.CommonName,
		DNSNames:  cert.DNSNames,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
	}
	for _, ip := range cert.IPAddresses {
		info.IPs = append(info.IPs, ip.String())
	}
	return info, nil
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, ErrNotPEM
	}
	if block.Type != "CERTIFICATE" {
		return nil, ErrNotCertificate
	}
	return x509.ParseCertificate(block.Bytes)
}

func parsePrivateKey(keyPEM []byte) (any, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, ErrNotPEM
	}
	// Try the three encodings seen in the wild: PKCS#8, PKCS#1, SEC1.
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, ErrNotPrivateKey
}

// matchKey verifies the private key's public half equals the certificate's
// public key.
func matchKey(cert *x509.Certificate, key any) error {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok || !k.PublicKey.Equal(pub) {
			return ErrKeyMismatch
		}
	case *ecdsa.PrivateKey:
		pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
		if !ok || !k.PublicKey.Equal(pub) {
			return ErrKeyMismatch
		}
	case ed25519.PrivateKey:
		pub, ok := cert.PublicKey.(ed25519.PublicKey)
		if !ok || !pub.Equal(k.Public()) {
			return ErrKeyMismatch
		}
	default:
		return ErrUnsupportedKey
	}
	return nil
}

// =============================================================================
// Domain Coverage
// =============================================================================

// CoversDomain reports whether the expected domain appears in the parsed
// subject or alternative names. This is a deliberately naive textual
// containment check (case-folded, no wildcard matching) kept as a
// best-effort hint rather than an authoritative hostname verification.
func CoversDomain(info *Info, expectedDomain string) bool {
	if info == nil || expectedDomain == "" {
		return false
	}
	want := strings.ToLower(strings.TrimSpace(expectedDomain))

	if strings.Contains(strings.ToLower(info.Subject), want) {
		return true
	}
	for _, name := range info.DNSNames {
		if strings.Contains(strings.ToLower(name), want) {
			return true
		}
	}
	for _, ip := range info.IPs {
		if ip == want {
			return true
		}
	}
	return false
}

// =============================================================================
// Expiry Classification
// =============================================================================

// CheckExpiration classifies how much of the validity window remains at the
// given instant. daysRemaining <= 0 is a hard failure for callers that
// require a validity window; <= 7 means renewal is recommended; <= 30 is
// informational.
func CheckExpiration(notAfter, now time.Time) domain.ExpirationCheck {
	days := int(notAfter.Sub(now).Hours() / 24)

	check := domain.ExpirationCheck{DaysRemaining: days}
	switch {
	case days <= 0:
		check.Status = domain.ExpirationExpired
	case days <= 7:
		check.Status = domain.ExpirationRenewNow
	case days <= 30:
		check.Status = domain.ExpirationRenewSoon
	default:
		check.Status = domain.ExpirationValid
	}
	return check
}

// =============================================================================
// Domain Shape
// =============================================================================

// localNames are domains that always resolve to the local host and must
// never reach the public-CA strategy.
var localNames = map[string]bool{
	"localhost":   true,
	"127.0.0.1":   true,
	"::1":         true,
	"0.0.0.0":     true,
	"host.docker.internal": true,
}

// IsLocalDomain reports whether the domain is a loopback/local name for
// which only a self-signed certificate makes sense.
func IsLocalDomain(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if localNames[name] {
		return true
	}
	return strings.HasSuffix(name, ".localhost") || strings.HasSuffix(name, ".local")
}

// LocalAliases is the fixed alias set a localhost-scoped certificate covers.
func LocalAliases() []string {
	return []string{"localhost", "127.0.0.1", "::1"}
}
