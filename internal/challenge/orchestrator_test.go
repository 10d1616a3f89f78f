package challenge

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/BradenHooton/bastion/internal/codes"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/ratelimit"
	"github.com/BradenHooton/bastion/internal/risk"
	"github.com/BradenHooton/bastion/internal/sms"
	"github.com/BradenHooton/bastion/internal/store"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
)

type fakeUserFetcher struct {
	users map[string]*models.User
}

func (f *fakeUserFetcher) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

type fakeRiskRecorder struct {
	mu                sync.Mutex
	failures          []string
	terminalSuccesses []string
	lockNext          bool
	lockUntil         time.Time
}

func (f *fakeRiskRecorder) RegisterSecondFactorFailure(ctx context.Context, subject string, userID *string, client risk.ClientContext, reason string) (*risk.FailureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
	return &risk.FailureResult{Locked: f.lockNext, LockedUntil: f.lockUntil}, nil
}

func (f *fakeRiskRecorder) RegisterTerminalSuccess(ctx context.Context, subject, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminalSuccesses = append(f.terminalSuccesses, subject)
}

type captureSender struct {
	mu    sync.Mutex
	codes []string
	err   error
}

var _ sms.Sender = (*captureSender)(nil)

func (c *captureSender) Send(ctx context.Context, phoneNumber, code string) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes = append(c.codes, code)
	return nil
}

func (c *captureSender) lastCode(t *testing.T) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.codes, "no SMS was dispatched")
	return c.codes[len(c.codes)-1]
}

type backupRepoStub struct {
	active []models.BackupCode
}

func (r *backupRepoStub) ListActive(ctx context.Context, userID string) ([]models.BackupCode, error) {
	var out []models.BackupCode
	for _, c := range r.active {
		if c.UserID == userID && c.UsedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *backupRepoStub) Consume(ctx context.Context, id string) (bool, error) {
	for i := range r.active {
		if r.active[i].ID == id && r.active[i].UsedAt == nil {
			now := time.Now()
			r.active[i].UsedAt = &now
			return true, nil
		}
	}
	return false, nil
}

type fixture struct {
	orch       *Orchestrator
	challenges *store.ChallengeStore
	users      *fakeUserFetcher
	gate       *fakeRiskRecorder
	sender     *captureSender
	backups    *backupRepoStub
	user       *models.User
	totpSecret string
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	key, err := totp.Generate(totp.GenerateOpts{Issuer: "bastion", AccountName: "user@example.com"})
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("AAAA2222BB"), bcrypt.MinCost)
	require.NoError(t, err)

	user := &models.User{
		ID:              "user123",
		Email:           "User@Example.com",
		Status:          "active",
		TOTPEnabled:     true,
		TOTPSecret:      key.Secret(),
		SMSEnabled:      true,
		PhoneNumber:     "+15550001234",
		PhoneMasked:     "+1••••••1234",
		PreferredMethod: models.MethodTOTP,
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codeStore := store.NewCodeStore(client)
	limiter := ratelimit.New(store.NewRedisCounterStore(client, "test"), map[ratelimit.Scope]ratelimit.Quota{
		ratelimit.ScopeVerification: {Limit: 50, Window: 15 * time.Minute},
		ratelimit.ScopeResend:       {Limit: 3, Window: 15 * time.Minute},
	}, logger)

	f := &fixture{
		challenges: store.NewChallengeStore(client),
		users:      &fakeUserFetcher{users: map[string]*models.User{user.ID: user}},
		gate:       &fakeRiskRecorder{},
		sender:     &captureSender{},
		backups: &backupRepoStub{active: []models.BackupCode{
			{ID: "bc1", UserID: user.ID, CodeHash: string(hash)},
		}},
		user:       user,
		totpSecret: key.Secret(),
	}

	f.orch = NewOrchestrator(
		f.challenges,
		codes.NewTOTPVerifier(codeStore),
		codes.NewSMSVerifier(codeStore, 5*time.Minute),
		codes.NewBackupVerifier(f.backups),
		f.users,
		limiter,
		f.gate,
		f.sender,
		pkglogger.NewAuditLogger(logger),
		logger,
		cfg,
	)
	return f
}

func defaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxAttempts: 5, MaxSwitches: 3}
}

var client = risk.ClientContext{IPAddress: "203.0.113.9", UserAgent: "test-agent"}

func (f *fixture) currentTOTP(t *testing.T) string {
	t.Helper()
	code, err := totp.GenerateCode(f.totpSecret, time.Now())
	require.NoError(t, err)
	return code
}

func TestOrchestrator_Issue_PreferredMethod(t *testing.T) {
	f := newFixture(t, defaultConfig())

	ch, err := f.orch.Issue(context.Background(), f.user)
	require.NoError(t, err)

	assert.NotEmpty(t, ch.Token)
	assert.Equal(t, models.MethodTOTP, ch.Method)
	assert.Equal(t, models.ChallengePending, ch.Status)
	assert.NotEmpty(t, ch.LineageID)
	assert.Empty(t, f.sender.codes, "TOTP challenges send nothing")
}

func TestOrchestrator_Issue_SMSDispatchesCode(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.PreferredMethod = models.MethodSMS

	ch, err := f.orch.Issue(context.Background(), f.user)
	require.NoError(t, err)

	assert.Equal(t, models.MethodSMS, ch.Method)
	assert.Len(t, f.sender.lastCode(t), 6)
}

func TestOrchestrator_Issue_NoSecondFactor(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.TOTPEnabled = false
	f.user.SMSEnabled = false

	_, err := f.orch.Issue(context.Background(), f.user)
	assert.ErrorIs(t, err, models.ErrNoSecondFactor)
}

func TestOrchestrator_Issue_SMSDispatchFailureKillsChallenge(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.PreferredMethod = models.MethodSMS
	f.sender.err = assert.AnError

	_, err := f.orch.Issue(context.Background(), f.user)
	assert.ErrorIs(t, err, models.ErrDownstreamUnavailable)
}

func TestOrchestrator_Verify_TOTPSuccess(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	result, err := f.orch.Verify(ctx, ch.Token, f.currentTOTP(t), false, client)
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
	assert.Equal(t, models.MethodTOTP, result.Method)
	assert.False(t, result.UsedBackupCode)

	// The terminal success is keyed by the normalized email.
	assert.Equal(t, []string{"user@example.com"}, f.gate.terminalSuccesses)

	// A verified challenge accepts nothing further.
	_, err = f.orch.Verify(ctx, ch.Token, f.currentTOTP(t), false, client)
	assert.ErrorIs(t, err, models.ErrChallengeInvalid)
}

func TestOrchestrator_Verify_SMSSuccess(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.PreferredMethod = models.MethodSMS
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	result, err := f.orch.Verify(ctx, ch.Token, f.sender.lastCode(t), false, client)
	require.NoError(t, err)
	assert.Equal(t, models.MethodSMS, result.Method)
}

func TestOrchestrator_Verify_BackupCode(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	result, err := f.orch.Verify(ctx, ch.Token, "AAAA2222BB", true, client)
	require.NoError(t, err)
	assert.True(t, result.UsedBackupCode)
	assert.Zero(t, result.BackupCodesRemaining)
}

func TestOrchestrator_Verify_WrongCodeCountsDown(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Verify(ctx, ch.Token, "000000", false, client)
	require.ErrorIs(t, err, models.ErrCodeMismatch)
	var verr *models.VerificationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.AttemptsRemaining)
	assert.Equal(t, 4, *verr.AttemptsRemaining)
	assert.Equal(t, []string{"code_mismatch"}, f.gate.failures)

	// The right code still works afterwards.
	result, err := f.orch.Verify(ctx, ch.Token, f.currentTOTP(t), false, client)
	require.NoError(t, err)
	assert.Equal(t, "user123", result.UserID)
}

func TestOrchestrator_Verify_AttemptBudgetExhausts(t *testing.T) {
	f := newFixture(t, Config{TTL: 5 * time.Minute, MaxAttempts: 3, MaxSwitches: 3})
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.orch.Verify(ctx, ch.Token, "000000", false, client)
		require.ErrorIs(t, err, models.ErrCodeMismatch)
	}

	// Budget spent: even the correct code is refused now.
	_, err = f.orch.Verify(ctx, ch.Token, f.currentTOTP(t), false, client)
	assert.ErrorIs(t, err, models.ErrChallengeExhausted)
}

func TestOrchestrator_Verify_LockoutPreemptsMismatch(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	until := time.Now().Add(30 * time.Minute)
	f.gate.lockNext = true
	f.gate.lockUntil = until
	_, err = f.orch.Verify(ctx, ch.Token, "000000", false, client)
	require.ErrorIs(t, err, models.ErrAccountLocked)

	// The lockout horizon rides along for the client.
	var verr *models.VerificationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, verr.LockedUntil)
	assert.WithinDuration(t, until, *verr.LockedUntil, time.Second)
}

func TestOrchestrator_Verify_ExpiredChallenge(t *testing.T) {
	f := newFixture(t, Config{TTL: -time.Second, MaxAttempts: 5, MaxSwitches: 3})
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Verify(ctx, ch.Token, f.currentTOTP(t), false, client)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)

	// Expiry is sticky.
	_, _, err = f.orch.Status(ctx, ch.Token)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)
}

func TestOrchestrator_Verify_UnknownToken(t *testing.T) {
	f := newFixture(t, defaultConfig())

	_, err := f.orch.Verify(context.Background(), "no-such-token", "000000", false, client)
	assert.ErrorIs(t, err, models.ErrChallengeInvalid)

	_, err = f.orch.Verify(context.Background(), "", "000000", false, client)
	assert.ErrorIs(t, err, models.ErrChallengeInvalid)
}

func TestOrchestrator_Switch_SupersedesAtomically(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	successor, err := f.orch.Switch(ctx, ch.Token, models.MethodSMS)
	require.NoError(t, err)
	assert.Equal(t, models.MethodSMS, successor.Method)
	assert.Equal(t, ch.LineageID, successor.LineageID)
	assert.Equal(t, 1, successor.SwitchesUsed)
	assert.Len(t, f.sender.lastCode(t), 6)

	// The superseded token is dead.
	_, err = f.orch.Verify(ctx, ch.Token, "000000", false, client)
	assert.ErrorIs(t, err, models.ErrChallengeExpired)

	// The successor works.
	result, err := f.orch.Verify(ctx, successor.Token, f.sender.lastCode(t), false, client)
	require.NoError(t, err)
	assert.Equal(t, models.MethodSMS, result.Method)
}

func TestOrchestrator_Switch_BudgetSpansLineage(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	methods := []models.SecondFactorMethod{models.MethodSMS, models.MethodTOTP, models.MethodSMS}
	current := ch
	for _, m := range methods {
		current, err = f.orch.Switch(ctx, current.Token, m)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, current.SwitchesUsed)

	// Fourth switch refused; the current challenge itself stays usable.
	_, err = f.orch.Switch(ctx, current.Token, models.MethodTOTP)
	assert.ErrorIs(t, err, models.ErrChallengeExhausted)

	result, err := f.orch.Verify(ctx, current.Token, f.sender.lastCode(t), false, client)
	require.NoError(t, err)
	assert.Equal(t, models.MethodSMS, result.Method)
}

func TestOrchestrator_Switch_RejectsSameAndInvalidTargets(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Switch(ctx, ch.Token, models.MethodTOTP)
	assert.ErrorIs(t, err, models.ErrBadRequest)

	_, err = f.orch.Switch(ctx, ch.Token, models.MethodBackup)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestOrchestrator_Switch_RequiresTargetEnabled(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.SMSEnabled = false
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Switch(ctx, ch.Token, models.MethodSMS)
	assert.ErrorIs(t, err, models.ErrNoSecondFactor)
}

func TestOrchestrator_Resend_ReplacesCode(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.PreferredMethod = models.MethodSMS
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)
	first := f.sender.lastCode(t)

	remaining, err := f.orch.Resend(ctx, ch.Token)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
	second := f.sender.lastCode(t)

	if first != second {
		_, err = f.orch.Verify(ctx, ch.Token, first, false, client)
		require.ErrorIs(t, err, models.ErrCodeMismatch)
	}

	result, err := f.orch.Verify(ctx, ch.Token, second, false, client)
	require.NoError(t, err)
	assert.Equal(t, models.MethodSMS, result.Method)
}

func TestOrchestrator_Resend_QuotaEnforced(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.user.PreferredMethod = models.MethodSMS
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = f.orch.Resend(ctx, ch.Token)
		require.NoError(t, err)
	}

	_, err = f.orch.Resend(ctx, ch.Token)
	assert.ErrorIs(t, err, models.ErrRateLimited)
}

func TestOrchestrator_Resend_TOTPRefused(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Resend(ctx, ch.Token)
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestOrchestrator_Status(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	ch, err := f.orch.Issue(ctx, f.user)
	require.NoError(t, err)

	_, err = f.orch.Verify(ctx, ch.Token, "000000", false, client)
	require.ErrorIs(t, err, models.ErrCodeMismatch)

	got, remaining, err := f.orch.Status(ctx, ch.Token)
	require.NoError(t, err)
	assert.Equal(t, models.MethodTOTP, got.Method)
	assert.Equal(t, 4, remaining)
}
