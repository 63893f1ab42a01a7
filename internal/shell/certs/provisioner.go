package certs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	corecerts "github.com/artpar/preflight/internal/core/certs"
	"github.com/artpar/preflight/internal/core/domain"
)

// =============================================================================
// Configuration
// =============================================================================

// PairPath names one on-disk certificate/key pair.
type PairPath struct {
	Cert string
	Key  string
}

// Config tunes the provisioning cascade.
type Config struct {
	// SSLPath is the directory the final bundle lives in.
	SSLPath string

	// Name is the base file name; the bundle is <SSLPath>/<Name>.crt|.key.
	Name string

	// Mode narrows the cascade. Auto runs every strategy in order.
	Mode domain.SSLMode

	// LegacyPaths is the fixed ordered list of historical locations the
	// consolidate strategy sweeps. First validating pair wins.
	LegacyPaths []PairPath

	// SelfSignedDays is the validity window for generated self-signed
	// certificates.
	SelfSignedDays int

	// ACMELiveDir is where the ACME tool leaves issued material.
	ACMELiveDir string
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "server"
	}
	if c.Mode == "" {
		c.Mode = domain.SSLModeAuto
	}
	if c.SelfSignedDays == 0 {
		c.SelfSignedDays = 365
	}
	if c.ACMELiveDir == "" {
		c.ACMELiveDir = "/etc/letsencrypt/live"
	}
}

// =============================================================================
// Provisioner
// =============================================================================

// strategy is one step of the cascade. A nil bundle with an error means the
// step could not produce a usable pair; the cascade moves on.
type strategy interface {
	Kind() domain.CertStrategy
	Provision(ctx context.Context, domainName string) (*domain.CertificateBundle, error)
}

// Provisioner walks an ordered strategy cascade until one produces a bundle
// that validates. Intermediate failures are recoverable and logged; only the
// exhaustion of every strategy is fatal.
type Provisioner struct {
	cfg       Config
	runner    CommandRunner
	validator *Validator
	logger    *slog.Logger

	// resolves reports whether a public domain has an address record.
	// Swapped in tests to avoid real DNS.
	resolves func(domainName string) bool

	// now feeds the quarantine suffix
	now func() time.Time
}

// NewProvisioner creates a provisioner over the given runner and validator.
func NewProvisioner(cfg Config, runner CommandRunner, validator *Validator, logger *slog.Logger) *Provisioner {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = NewValidator(logger)
	}
	return &Provisioner{
		cfg:       cfg,
		runner:    runner,
		validator: validator,
		logger:    logger.With("component", "cert_provisioner"),
		resolves: func(domainName string) bool {
			addrs, err := net.LookupHost(domainName)
			return err == nil && len(addrs) > 0
		},
		now: time.Now,
	}
}

// Provision produces a valid certificate bundle for the domain, or fails
// with ErrNoValidCertificate after every strategy has been exhausted.
func (p *Provisioner) Provision(ctx context.Context, domainName string) (domain.CertificateBundle, error) {
	if err := os.MkdirAll(p.cfg.SSLPath, 0o755); err != nil {
		return domain.CertificateBundle{}, fmt.Errorf("create ssl directory: %w", err)
	}

	for _, s := range p.strategies() {
		bundle, err := s.Provision(ctx, domainName)
		if err != nil {
			p.logger.Warn("certificate strategy failed, trying next",
				"strategy", s.Kind(), "domain", domainName, "error", err)
			continue
		}
		p.logger.Info("certificate provisioned",
			"strategy", bundle.Strategy, "domain", domainName, "cert", bundle.CertPath)
		return *bundle, nil
	}

	return domain.CertificateBundle{}, fmt.Errorf("all strategies exhausted for %q: %w",
		domainName, domain.ErrNoValidCertificate)
}

// strategies assembles the cascade for the configured mode.
func (p *Provisioner) strategies() []strategy {
	reuse := &reuseStrategy{p}
	consolidate := &consolidateStrategy{p}
	generate := &generateStrategy{p: p}
	fallback := &fallbackStrategy{p}

	switch p.cfg.Mode {
	case domain.SSLModeExisting:
		return []strategy{reuse, consolidate}
	case domain.SSLModeSelfSigned:
		generate.selfSignedOnly = true
		return []strategy{reuse, consolidate, generate, fallback}
	case domain.SSLModePublicCA:
		return []strategy{reuse, consolidate, generate, fallback}
	default:
		return []strategy{reuse, consolidate, generate, fallback}
	}
}

func (p *Provisioner) bundlePaths() (certPath, keyPath string) {
	return filepath.Join(p.cfg.SSLPath, p.cfg.Name+".crt"),
		filepath.Join(p.cfg.SSLPath, p.cfg.Name+".key")
}

// bundleFor fills metadata from the on-disk pair.
func (p *Provisioner) bundleFor(certPath, keyPath, domainName string, kind domain.CertStrategy) *domain.CertificateBundle {
	bundle := &domain.CertificateBundle{
		CertPath: certPath,
		KeyPath:  keyPath,
		Domain:   domainName,
		Strategy: kind,
	}
	if info := p.validator.Describe(*bundle); info != nil {
		bundle.Issuer = info.Issuer
		bundle.NotBefore = info.NotBefore
		bundle.NotAfter = info.NotAfter
	}
	return bundle
}

// quarantine renames a rejected file out of the way instead of deleting it.
// The original content stays on disk under <file>.invalid.<unixtime>.
func (p *Provisioner) quarantine(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	dest := path + ".invalid." + strconv.FormatInt(p.now().Unix(), 10)
	if err := os.Rename(path, dest); err != nil {
		p.logger.Warn("could not quarantine invalid file", "path", path, "error", err)
		return
	}
	p.logger.Info("quarantined invalid certificate material", "from", path, "to", dest)
}

// restrictKey re-asserts owner-only permissions on a private key.
func (p *Provisioner) restrictKey(keyPath string) {
	if err := os.Chmod(keyPath, 0o600); err != nil {
		p.logger.Warn("could not restrict key permissions", "key", keyPath, "error", err)
	}
}

// =============================================================================
// Strategy: Reuse
// =============================================================================

// reuseStrategy accepts the pair already at the canonical location when it
// validates; an existing pair that fails validation is quarantined so later
// strategies write fresh files.
type reuseStrategy struct{ p *Provisioner }

func (s *reuseStrategy) Kind() domain.CertStrategy { return domain.StrategyReuse }

func (s *reuseStrategy) Provision(_ context.Context, domainName string) (*domain.CertificateBundle, error) {
	certPath, keyPath := s.p.bundlePaths()

	if _, err := os.Stat(certPath); err != nil {
		return nil, fmt.Errorf("no existing certificate at %s", certPath)
	}

	candidate := domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath}
	if !s.p.validator.Validate(candidate, domainName) {
		s.p.quarantine(certPath)
		s.p.quarantine(keyPath)
		return nil, fmt.Errorf("existing pair at %s failed validation", certPath)
	}

	return s.p.bundleFor(certPath, keyPath, domainName, domain.StrategyReuse), nil
}

// =============================================================================
// Strategy: Consolidate
// =============================================================================

// consolidateStrategy sweeps the fixed legacy locations and copies the first
// validating pair into the canonical location.
type consolidateStrategy struct{ p *Provisioner }

func (s *consolidateStrategy) Kind() domain.CertStrategy { return domain.StrategyConsolidate }

func (s *consolidateStrategy) Provision(_ context.Context, domainName string) (*domain.CertificateBundle, error) {
	if len(s.p.cfg.LegacyPaths) == 0 {
		return nil, fmt.Errorf("no legacy locations configured")
	}

	certPath, keyPath := s.p.bundlePaths()
	for _, legacy := range s.p.cfg.LegacyPaths {
		candidate := domain.CertificateBundle{CertPath: legacy.Cert, KeyPath: legacy.Key}
		if !s.p.validator.Validate(candidate, domainName) {
			continue
		}

		if err := copyFile(legacy.Cert, certPath, 0o644); err != nil {
			return nil, fmt.Errorf("consolidate certificate: %w", err)
		}
		if err := copyFile(legacy.Key, keyPath, 0o600); err != nil {
			return nil, fmt.Errorf("consolidate key: %w", err)
		}
		s.p.restrictKey(keyPath)

		s.p.logger.Info("consolidated legacy certificate", "from", legacy.Cert, "to", certPath)
		return s.p.bundleFor(certPath, keyPath, domainName, domain.StrategyConsolidate), nil
	}

	return nil, fmt.Errorf("no legacy pair validates for %q", domainName)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// =============================================================================
// Strategy: Domain-aware Generation
// =============================================================================

// generateStrategy picks the generation path by domain shape: loopback names
// get a localhost-scoped self-signed pair; public names that resolve get a
// publicly trusted attempt through the ACME tool, with self-signed as the
// recovery path for any failure along the way.
type generateStrategy struct {
	p              *Provisioner
	selfSignedOnly bool
}

func (s *generateStrategy) Kind() domain.CertStrategy {
	if s.selfSignedOnly {
		return domain.StrategySelfSigned
	}
	return domain.StrategyPublicCA
}

func (s *generateStrategy) Provision(ctx context.Context, domainName string) (*domain.CertificateBundle, error) {
	if corecerts.IsLocalDomain(domainName) {
		return s.p.generateSelfSigned(ctx, domainName, corecerts.LocalAliases())
	}

	if !s.selfSignedOnly && s.p.resolves(domainName) {
		if bundle, err := s.p.obtainPublic(ctx, domainName); err == nil {
			return bundle, nil
		} else {
			s.p.logger.Warn("public CA issuance failed, generating self-signed instead",
				"domain", domainName, "error", err)
		}
	}

	names := append([]string{domainName}, corecerts.LocalAliases()...)
	return s.p.generateSelfSigned(ctx, domainName, names)
}

// =============================================================================
// Strategy: Minimal Fallback
// =============================================================================

// fallbackStrategy is the last resort: a bare self-signed localhost pair so
// the stack can come up at all.
type fallbackStrategy struct{ p *Provisioner }

func (s *fallbackStrategy) Kind() domain.CertStrategy { return domain.StrategyFallback }

func (s *fallbackStrategy) Provision(ctx context.Context, domainName string) (*domain.CertificateBundle, error) {
	bundle, err := s.p.generateSelfSigned(ctx, "localhost", corecerts.LocalAliases())
	if err != nil {
		return nil, err
	}
	bundle.Domain = domainName
	bundle.Strategy = domain.StrategyFallback
	return bundle, nil
}

// =============================================================================
// Generation Backends
// =============================================================================

// generateSelfSigned shells out to openssl for a fresh pair covering the
// given names, then validates what landed on disk.
func (p *Provisioner) generateSelfSigned(ctx context.Context, domainName string, names []string) (*domain.CertificateBundle, error) {
	if _, err := p.runner.LookPath("openssl"); err != nil {
		return nil, fmt.Errorf("openssl not available: %w", err)
	}

	certPath, keyPath := p.bundlePaths()
	p.quarantine(certPath)
	p.quarantine(keyPath)

	var altNames []string
	for _, name := range names {
		if ip := net.ParseIP(name); ip != nil {
			altNames = append(altNames, "IP:"+name)
		} else {
			altNames = append(altNames, "DNS:"+name)
		}
	}

	out, err := p.runner.Run(ctx, "openssl",
		"req", "-x509", "-newkey", "rsa:2048", "-sha256", "-nodes",
		"-keyout", keyPath,
		"-out", certPath,
		"-days", strconv.Itoa(p.cfg.SelfSignedDays),
		"-subj", "/CN="+domainName,
		"-addext", "subjectAltName="+strings.Join(altNames, ","),
	)
	if err != nil {
		return nil, fmt.Errorf("openssl generation failed: %w (%s)", err, out)
	}
	p.restrictKey(keyPath)

	candidate := domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath}
	if !p.validator.Validate(candidate, domainName) {
		return nil, fmt.Errorf("generated pair failed validation for %q", domainName)
	}
	return p.bundleFor(certPath, keyPath, domainName, domain.StrategySelfSigned), nil
}

// obtainPublic drives the ACME tool for a publicly trusted certificate and
// copies the issued material to the canonical location.
func (p *Provisioner) obtainPublic(ctx context.Context, domainName string) (*domain.CertificateBundle, error) {
	if err := p.ensureACMETool(ctx); err != nil {
		return nil, err
	}

	out, err := p.runner.Run(ctx, "certbot",
		"certonly", "--standalone", "--non-interactive", "--agree-tos",
		"--register-unsafely-without-email",
		"-d", domainName,
	)
	if err != nil {
		return nil, fmt.Errorf("certbot issuance failed: %w (%s)", err, out)
	}

	liveDir := filepath.Join(p.cfg.ACMELiveDir, domainName)
	certPath, keyPath := p.bundlePaths()
	p.quarantine(certPath)
	p.quarantine(keyPath)

	if err := copyFile(filepath.Join(liveDir, "fullchain.pem"), certPath, 0o644); err != nil {
		return nil, fmt.Errorf("copy issued certificate: %w", err)
	}
	if err := copyFile(filepath.Join(liveDir, "privkey.pem"), keyPath, 0o600); err != nil {
		return nil, fmt.Errorf("copy issued key: %w", err)
	}
	p.restrictKey(keyPath)

	candidate := domain.CertificateBundle{CertPath: certPath, KeyPath: keyPath}
	if !p.validator.Validate(candidate, domainName) {
		return nil, fmt.Errorf("issued pair failed validation for %q", domainName)
	}
	return p.bundleFor(certPath, keyPath, domainName, domain.StrategyPublicCA), nil
}

// ensureACMETool resolves certbot, attempting a package install when it is
// absent.
func (p *Provisioner) ensureACMETool(ctx context.Context) error {
	if _, err := p.runner.LookPath("certbot"); err == nil {
		return nil
	}

	p.logger.Info("certbot not found, attempting install")
	if out, err := p.runner.Run(ctx, "apt-get", "install", "-y", "certbot"); err != nil {
		return fmt.Errorf("certbot unavailable and install failed: %w (%s)", err, out)
	}
	if _, err := p.runner.LookPath("certbot"); err != nil {
		return fmt.Errorf("certbot still unavailable after install: %w", err)
	}
	return nil
}
