package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/preflight/internal/core/compose"
	"github.com/artpar/preflight/internal/core/domain"
	"github.com/artpar/preflight/internal/shell/images"
	"github.com/artpar/preflight/internal/shell/store"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeCerts struct {
	bundle domain.CertificateBundle
	err    error
}

func (f *fakeCerts) Provision(_ context.Context, domainName string) (domain.CertificateBundle, error) {
	if f.err != nil {
		return domain.CertificateBundle{}, f.err
	}
	b := f.bundle
	b.Domain = domainName
	return b, nil
}

type fakeExpiration struct {
	check domain.ExpirationCheck
	ok    bool
}

func (f *fakeExpiration) Expiration(domain.CertificateBundle) (domain.ExpirationCheck, bool) {
	return f.check, f.ok
}

type fakeAuth struct {
	err   error
	calls int
}

func (f *fakeAuth) Authenticate(_ context.Context, _ string) (*domain.RegistrySession, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RegistrySession{Principal: "ci-bot", Scope: "pull", Token: "session-token"}, nil
}

type fakeAcquirer struct {
	summary   domain.PullSummary
	missing   []domain.ImageReference
	validated int
}

func (f *fakeAcquirer) PullAll(_ context.Context, _ *images.Manifest, _ bool) domain.PullSummary {
	return f.summary
}

func (f *fakeAcquirer) ValidateAll(_ context.Context, _ *images.Manifest, _ bool) ([]domain.ImageReference, error) {
	f.validated++
	return f.missing, nil
}

type fakeActivator struct {
	preflightErr error
	outcome      domain.ActivationOutcome
	activateErr  error
	activated    int
}

func (f *fakeActivator) Preflight(_ context.Context, _ *compose.Declaration, _ domain.CertificateBundle, _ string) error {
	return f.preflightErr
}

func (f *fakeActivator) Activate(_ context.Context, _ *compose.Declaration) (domain.ActivationOutcome, error) {
	f.activated++
	return f.outcome, f.activateErr
}

// =============================================================================
// Helpers
// =============================================================================

type fixture struct {
	certs     *fakeCerts
	auth      *fakeAuth
	acquirer  *fakeAcquirer
	activator *fakeActivator
	history   *store.SQLiteStore
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	history, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	f := &fixture{
		certs: &fakeCerts{bundle: domain.CertificateBundle{
			CertPath: "/ssl/server.crt",
			KeyPath:  "/ssl/server.key",
			Strategy: domain.StrategySelfSigned,
		}},
		auth: &fakeAuth{},
		acquirer: &fakeAcquirer{summary: domain.PullSummary{
			Successes: 2,
			Results: []domain.PullResult{
				{Outcome: domain.PullSucceeded},
				{Outcome: domain.PullSucceeded},
			},
		}},
		activator: &fakeActivator{outcome: domain.ActivationOutcome{
			Phase: domain.PhaseHealthy, Healthy: 2, Total: 2,
		}},
		history: history,
	}

	manifest := &images.Manifest{Images: []string{"app/web", "app/api"}}
	decl := &compose.Declaration{Services: []compose.Service{
		{Name: "web", Image: "app/web:v1.0.0"},
		{Name: "api", Image: "app/api:v1.0.0"},
	}}

	f.pipeline = New(f.certs, &fakeExpiration{}, f.auth, f.acquirer, f.activator,
		manifest, decl, history, nil)
	return f
}

func testConfig() Config {
	return Config{
		Domain:     "example.com",
		Credential: "dckr_pat_abcdefghij0123456789",
	}
}

func stageOf(t *testing.T, err error) *domain.StageError {
	t.Helper()
	var se *domain.StageError
	require.ErrorAs(t, err, &se)
	return se
}

// =============================================================================
// Tests
// =============================================================================

func TestRun_FullSuccess(t *testing.T) {
	f := newFixture(t)

	result, err := f.pipeline.Run(context.Background(), testConfig())
	require.NoError(t, err)

	assert.Equal(t, domain.StrategySelfSigned, result.Bundle.Strategy)
	assert.Equal(t, "ci-bot", result.Session.Principal)
	assert.True(t, result.Activation.Succeeded())

	record, err := f.history.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseHealthy, record.Phase)
	assert.Equal(t, 2, record.PullSuccesses)
	assert.NotNil(t, record.FinishedAt)
	assert.Empty(t, record.ErrorMessage)
}

func TestRun_CertificateExhaustionIsFatal(t *testing.T) {
	f := newFixture(t)
	f.certs.err = domain.ErrNoValidCertificate

	result, err := f.pipeline.Run(context.Background(), testConfig())
	se := stageOf(t, err)

	assert.Equal(t, StageCertificate, se.Stage)
	assert.Equal(t, domain.FailurePermanent, se.Class)
	assert.NotEmpty(t, se.Remediation)
	assert.Zero(t, f.auth.calls, "authentication must not run after a fatal certificate stage")

	record, rerr := f.history.GetRun(context.Background(), result.RunID)
	require.NoError(t, rerr)
	assert.NotEmpty(t, record.ErrorMessage, "failed runs are recorded too")
}

func TestRun_MalformedCredentialIsValidationFailure(t *testing.T) {
	f := newFixture(t)
	f.auth.err = domain.ErrMalformedCredential

	_, err := f.pipeline.Run(context.Background(), testConfig())
	se := stageOf(t, err)
	assert.Equal(t, StageAuth, se.Stage)
	assert.Equal(t, domain.FailureValidation, se.Class)
	assert.Zero(t, f.activator.activated)
}

func TestRun_AllPullsFailedIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.acquirer.summary = domain.PullSummary{
		Failures: 2,
		Results: []domain.PullResult{
			{Outcome: domain.PullFailed},
			{Outcome: domain.PullFailed},
		},
	}

	_, err := f.pipeline.Run(context.Background(), testConfig())
	se := stageOf(t, err)
	assert.Equal(t, StageImages, se.Stage)
	assert.ErrorIs(t, err, domain.ErrAllPullsFailed)
	assert.Zero(t, f.activator.activated)
}

func TestRun_PartialPullFailureBlocksByDefault(t *testing.T) {
	f := newFixture(t)
	f.acquirer.summary = domain.PullSummary{
		Successes: 1, Failures: 1,
		Results: []domain.PullResult{
			{Outcome: domain.PullSucceeded},
			{Outcome: domain.PullFailed},
		},
	}

	_, err := f.pipeline.Run(context.Background(), testConfig())
	se := stageOf(t, err)
	assert.Equal(t, StageImages, se.Stage)
	assert.Zero(t, f.activator.activated)
}

func TestRun_PartialPullFailureAllowedWhenConfigured(t *testing.T) {
	f := newFixture(t)
	f.acquirer.summary = domain.PullSummary{
		Successes: 1, Failures: 1,
		Results: []domain.PullResult{
			{Outcome: domain.PullSucceeded},
			{Outcome: domain.PullFailed},
		},
	}

	cfg := testConfig()
	cfg.AllowMissingImages = true
	result, err := f.pipeline.Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, f.activator.activated)
	assert.Equal(t, 1, result.Pulls.Failures)
}

func TestRun_ExistenceSweepIsAdvisory(t *testing.T) {
	f := newFixture(t)
	f.acquirer.missing = []domain.ImageReference{{Name: "app/web", Tag: "v1.0.0"}}

	result, err := f.pipeline.Run(context.Background(), testConfig())
	require.NoError(t, err, "missing images in the sweep never gate the run")
	assert.Equal(t, 1, f.acquirer.validated, "the sweep runs once before pulling")
	assert.True(t, result.Activation.Succeeded())
}

func TestRun_TimeoutOutcomeIsNotAnError(t *testing.T) {
	f := newFixture(t)
	f.activator.outcome = domain.ActivationOutcome{
		Phase: domain.PhaseTimedOut, Healthy: 1, Total: 2,
	}

	result, err := f.pipeline.Run(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseTimedOut, result.Activation.Phase)

	record, rerr := f.history.GetRun(context.Background(), result.RunID)
	require.NoError(t, rerr)
	assert.Equal(t, domain.PhaseTimedOut, record.Phase)
	assert.Equal(t, 1, record.Healthy)
	assert.Equal(t, 2, record.Total)
}

func TestRun_RenewalAdviceSurfaced(t *testing.T) {
	f := newFixture(t)
	manifest := &images.Manifest{Images: []string{"app/web"}}
	decl := &compose.Declaration{Services: []compose.Service{{Name: "web", Image: "app/web:v1"}}}

	expiring := &fakeExpiration{
		check: domain.ExpirationCheck{Status: domain.ExpirationRenewNow, DaysRemaining: 3},
		ok:    true,
	}
	p := New(f.certs, expiring, f.auth, f.acquirer, f.activator, manifest, decl, nil, nil)

	result, err := p.Run(context.Background(), testConfig())
	require.NoError(t, err)
	assert.Contains(t, result.RenewalAdvice, "7 days")
}

func TestRun_ActivationAbortSurfaced(t *testing.T) {
	f := newFixture(t)
	f.activator.activateErr = domain.ErrActivationAborted
	f.activator.outcome = domain.ActivationOutcome{Phase: domain.PhaseFailed}

	_, err := f.pipeline.Run(context.Background(), testConfig())
	se := stageOf(t, err)
	assert.Equal(t, StageActivation, se.Stage)
	assert.Equal(t, domain.FailurePermanent, se.Class)
}
