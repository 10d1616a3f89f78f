package services

import (
	"context"

	"github.com/BradenHooton/bastion/internal/challenge"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/risk"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByEmailFunc func(ctx context.Context, email string) (*models.User, error)
	GetByIDFunc    func(ctx context.Context, id string) (*models.User, error)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

// MockRiskGate implements RiskGate for testing
type MockRiskGate struct {
	PreCheckFunc                func(ctx context.Context, subject, captchaToken, ip string) error
	RegisterFailureFunc         func(ctx context.Context, subject string, userID *string, client risk.ClientContext, reason string) (*risk.FailureResult, error)
	RegisterSuccessFunc         func(ctx context.Context, user *models.User, subject string, client risk.ClientContext) (*risk.Assessment, error)
	RegisterTerminalSuccessFunc func(ctx context.Context, subject, userID string)
}

func (m *MockRiskGate) PreCheck(ctx context.Context, subject, captchaToken, ip string) error {
	if m.PreCheckFunc != nil {
		return m.PreCheckFunc(ctx, subject, captchaToken, ip)
	}
	return nil
}

func (m *MockRiskGate) RegisterFailure(ctx context.Context, subject string, userID *string, client risk.ClientContext, reason string) (*risk.FailureResult, error) {
	if m.RegisterFailureFunc != nil {
		return m.RegisterFailureFunc(ctx, subject, userID, client, reason)
	}
	return &risk.FailureResult{}, nil
}

func (m *MockRiskGate) RegisterSuccess(ctx context.Context, user *models.User, subject string, client risk.ClientContext) (*risk.Assessment, error) {
	if m.RegisterSuccessFunc != nil {
		return m.RegisterSuccessFunc(ctx, user, subject, client)
	}
	return &risk.Assessment{}, nil
}

func (m *MockRiskGate) RegisterTerminalSuccess(ctx context.Context, subject, userID string) {
	if m.RegisterTerminalSuccessFunc != nil {
		m.RegisterTerminalSuccessFunc(ctx, subject, userID)
	}
}

// MockOrchestrator implements ChallengeOrchestrator for testing
type MockOrchestrator struct {
	IssueFunc  func(ctx context.Context, user *models.User) (*models.Challenge, error)
	VerifyFunc func(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*challenge.VerifyResult, error)
}

func (m *MockOrchestrator) Issue(ctx context.Context, user *models.User) (*models.Challenge, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(ctx, user)
	}
	return nil, models.ErrNoSecondFactor
}

func (m *MockOrchestrator) Verify(ctx context.Context, token, code string, useBackup bool, client risk.ClientContext) (*challenge.VerifyResult, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, token, code, useBackup, client)
	}
	return nil, models.ErrChallengeInvalid
}
