package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// Service is the credit ledger. Every balance mutation pairs a guarded
// update of user_credits with an appended credit_transactions row in
// one database transaction, so balance == total_purchased −
// total_consumed holds at every quiescent point.
type Service struct {
	repo   store.Repository
	logger *zap.Logger
}

func NewService(repo store.Repository, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// GetBalance returns the current balance; a user with no credit record
// has zero available.
func (s *Service) GetBalance(ctx context.Context, userID string) (float64, error) {
	credits, err := s.repo.Credits().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, api.Internal("failed to read balance", err)
	}
	return credits.Balance, nil
}

// CheckSufficient is the advisory pre-check used before the upstream
// call. It does not reserve funds; the authoritative check is re-done
// inside Debit.
func (s *Service) CheckSufficient(ctx context.Context, userID string, estimatedCost float64) (bool, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	return balance >= estimatedCost, nil
}

// Debit atomically re-checks the balance, applies the deduction, and
// appends the ledger entry. The balance can reach but never cross zero.
func (s *Service) Debit(ctx context.Context, userID string, amount float64, description string, meta map[string]any) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, api.InvalidAmount("debit amount must be positive")
	}

	var tx *model.CreditTransaction
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		updated, err := repo.Credits().Debit(ctx, userID, amount)
		if err != nil {
			return err
		}

		tx = newTransaction(userID, model.TxDeduction, -amount, updated.Balance, description, meta)
		return repo.Credits().InsertTransaction(ctx, tx)
	})
	if err != nil {
		if errors.Is(err, store.ErrInsufficientBalance) {
			return nil, api.InsufficientCredits("insufficient credits")
		}
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			return nil, apiErr
		}
		return nil, api.Internal("failed to debit credits", err)
	}

	s.logger.Debug("Credits debited",
		zap.String("user_id", userID),
		zap.Float64("amount", amount),
		zap.Float64("balance_after", tx.BalanceAfter))

	return tx, nil
}

// Credit adds funds, creating the credit record on first grant.
func (s *Service) Credit(ctx context.Context, userID string, amount float64, description string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, api.InvalidAmount("credit amount must be positive")
	}

	var tx *model.CreditTransaction
	err := s.repo.WithTx(ctx, func(repo store.Repository) error {
		updated, err := repo.Credits().Credit(ctx, userID, amount)
		if err != nil {
			return err
		}

		tx = newTransaction(userID, model.TxGrant, amount, updated.Balance, description, nil)
		return repo.Credits().InsertTransaction(ctx, tx)
	})
	if err != nil {
		return nil, api.Internal("failed to credit user", err)
	}

	s.logger.Info("Credits granted",
		zap.String("user_id", userID),
		zap.Float64("amount", amount),
		zap.Float64("balance_after", tx.BalanceAfter))

	return tx, nil
}

func newTransaction(userID, txType string, amount, balanceAfter float64, description string, meta map[string]any) *model.CreditTransaction {
	metaJSON := "{}"
	if len(meta) > 0 {
		if data, err := json.Marshal(meta); err == nil {
			metaJSON = string(data)
		}
	}

	return &model.CreditTransaction{
		ID:           uuid.New().String(),
		UserID:       userID,
		Type:         txType,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Description:  description,
		MetaJSON:     metaJSON,
		CreatedAt:    time.Now().UTC(),
	}
}
