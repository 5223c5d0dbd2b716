package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/onboarding92/exchange-core/internal/config"
	"github.com/onboarding92/exchange-core/internal/storage"
	"github.com/onboarding92/exchange-core/libs/auth"
	"github.com/onboarding92/exchange-core/libs/kafka"
)

var (
	ErrAssetNotWithdrawable = errors.New("asset cannot be withdrawn")
	ErrBelowMinimum         = errors.New("amount below withdrawal minimum")
	ErrAmountBelowFee       = errors.New("amount does not cover the withdrawal fee")
	ErrTwoFactorRequired    = errors.New("two-factor code required")
	ErrInvalidTwoFactor     = errors.New("invalid two-factor code")
)

type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *storage.Withdrawal) error
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error)
	ApproveWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	RejectWithdrawal(ctx context.Context, id uuid.UUID) (*storage.Withdrawal, error)
	UserTOTPSecret(ctx context.Context, userID uuid.UUID) (string, error)
}

// WithdrawalService gates outbound transfers: per-asset policy, two-factor
// verification when the user has enrolled, and a pending reservation of
// amount plus fee until an operator decides.
type WithdrawalService struct {
	store    WithdrawalStore
	policies map[string]config.WithdrawalPolicy
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
	now      func() time.Time
}

func NewWithdrawalService(store WithdrawalStore, policies map[string]config.WithdrawalPolicy, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics) *WithdrawalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WithdrawalService{
		store:    store,
		policies: policies,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
		now:      time.Now,
	}
}

type RequestWithdrawalInput struct {
	UserID        uuid.UUID
	Asset         string
	Amount        decimal.Decimal
	Address       string
	TwoFactorCode string
	CorrelationID string
}

func (s *WithdrawalService) Request(ctx context.Context, input RequestWithdrawalInput) (*storage.Withdrawal, error) {
	asset := strings.ToUpper(strings.TrimSpace(input.Asset))

	policy, ok := s.policies[asset]
	if !ok || !policy.Enabled {
		s.countRequest("policy_denied")
		return nil, ErrAssetNotWithdrawable
	}
	if input.Amount.LessThan(policy.MinAmount) {
		s.countRequest("below_minimum")
		return nil, ErrBelowMinimum
	}
	if input.Amount.LessThanOrEqual(policy.Fee) {
		s.countRequest("below_fee")
		return nil, ErrAmountBelowFee
	}

	if err := s.verifyTwoFactor(ctx, input.UserID, input.TwoFactorCode); err != nil {
		s.countRequest("two_factor_denied")
		return nil, err
	}

	w := &storage.Withdrawal{
		ID:      uuid.New(),
		UserID:  input.UserID,
		Asset:   asset,
		Amount:  input.Amount,
		Fee:     policy.Fee,
		Address: strings.TrimSpace(input.Address),
		Status:  storage.WithdrawalStatusPending,
	}
	if err := s.store.CreateWithdrawal(ctx, w); err != nil {
		if errors.Is(err, storage.ErrInsufficientFunds) {
			s.countRequest("insufficient_funds")
		} else {
			s.countRequest("error")
		}
		return nil, err
	}

	w.CreatedAt = s.now().UTC()
	s.publishRequested(ctx, input.CorrelationID, w)
	s.countRequest("accepted")
	return w, nil
}

// verifyTwoFactor enforces TOTP only for users who have enrolled a secret.
func (s *WithdrawalService) verifyTwoFactor(ctx context.Context, userID uuid.UUID, code string) error {
	secret, err := s.store.UserTOTPSecret(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if secret == "" {
		return nil
	}
	if strings.TrimSpace(code) == "" {
		return ErrTwoFactorRequired
	}
	if !auth.VerifyTOTP(secret, code, s.now()) {
		return ErrInvalidTwoFactor
	}
	return nil
}

func (s *WithdrawalService) Approve(ctx context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error) {
	w, err := s.store.ApproveWithdrawal(ctx, id)
	if err != nil {
		s.countDecision("approve_error")
		return nil, err
	}
	s.publishDecided(ctx, correlationID, w)
	s.countDecision("approved")
	return w, nil
}

func (s *WithdrawalService) Reject(ctx context.Context, id uuid.UUID, correlationID string) (*storage.Withdrawal, error) {
	w, err := s.store.RejectWithdrawal(ctx, id)
	if err != nil {
		s.countDecision("reject_error")
		return nil, err
	}
	s.publishDecided(ctx, correlationID, w)
	s.countDecision("rejected")
	return w, nil
}

func (s *WithdrawalService) Get(ctx context.Context, id, userID uuid.UUID) (*storage.Withdrawal, error) {
	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return w, nil
}

func (s *WithdrawalService) List(ctx context.Context, userID uuid.UUID) ([]storage.Withdrawal, error) {
	return s.store.ListWithdrawals(ctx, userID)
}

func (s *WithdrawalService) publishRequested(ctx context.Context, correlationID string, w *storage.Withdrawal) {
	eventID := kafka.DeterministicEventID("withdrawals.requested", w.ID.String())
	publishEvent(ctx, s.producer, s.logger, s.topics.WithdrawalsRequested, w.UserID.String(), "withdrawals.requested", eventID, correlationID, func(env kafka.Envelope) any {
		return WithdrawalRequestedEvent{
			Envelope:     env,
			WithdrawalID: w.ID.String(),
			UserID:       w.UserID.String(),
			Asset:        w.Asset,
			Amount:       w.Amount.String(),
			Fee:          w.Fee.String(),
			RequestedAt:  rfc3339(w.CreatedAt),
		}
	})
}

func (s *WithdrawalService) publishDecided(ctx context.Context, correlationID string, w *storage.Withdrawal) {
	eventID := kafka.DeterministicEventID("withdrawals.decided", w.ID.String(), w.Status)
	publishEvent(ctx, s.producer, s.logger, s.topics.WithdrawalsDecided, w.UserID.String(), "withdrawals.decided", eventID, correlationID, func(env kafka.Envelope) any {
		return WithdrawalDecidedEvent{
			Envelope:     env,
			WithdrawalID: w.ID.String(),
			UserID:       w.UserID.String(),
			Asset:        w.Asset,
			Amount:       w.Amount.String(),
			Fee:          w.Fee.String(),
			Status:       w.Status,
			DecidedAt:    rfc3339(w.UpdatedAt),
		}
	})
}

func (s *WithdrawalService) countRequest(status string) {
	if s.metrics != nil {
		s.metrics.WithdrawalRequests.WithLabelValues(status).Inc()
	}
}

func (s *WithdrawalService) countDecision(decision string) {
	if s.metrics != nil {
		s.metrics.WithdrawalDecisions.WithLabelValues(decision).Inc()
	}
}
