package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/andino-erp/andino-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetAccount(ctx context.Context, accountID int64) (Account, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	Deactivate(ctx context.Context, accountID int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts standalone account movements and transfers between own
// accounts. Order-driven payments go through the order services instead.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// EntryRequest describes a manual credit or debit.
type EntryRequest struct {
	AccountID int64
	Amount    string
	Memo      string
	ActorID   int64
}

// TransferRequest describes a transfer between two own accounts.
type TransferRequest struct {
	FromID  int64
	ToID    int64
	Amount  string
	Memo    string
	ActorID int64
}

// PostCredit records money flowing into an account.
func (s *Service) PostCredit(ctx context.Context, req EntryRequest) (Movement, error) {
	in, err := s.entryInput(req)
	if err != nil {
		return Movement{}, err
	}
	var movement Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		movement, err = Credit(ctx, store, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, "CREDIT", movement)
	return movement, nil
}

// PostDebit records money flowing out of an account.
func (s *Service) PostDebit(ctx context.Context, req EntryRequest) (Movement, error) {
	in, err := s.entryInput(req)
	if err != nil {
		return Movement{}, err
	}
	var movement Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		movement, err = Debit(ctx, store, in)
		return err
	})
	if err != nil {
		return Movement{}, err
	}
	s.recordAudit(ctx, "DEBIT", movement)
	return movement, nil
}

// PostTransfer moves money between two own accounts as one atomic pair.
func (s *Service) PostTransfer(ctx context.Context, req TransferRequest) (Movement, Movement, error) {
	if req.FromID == 0 || req.ToID == 0 {
		return Movement{}, Movement{}, errors.New("ledger: both accounts required")
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return Movement{}, Movement{}, ErrInvalidAmount
	}
	var out, in Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		out, in, err = Transfer(ctx, store, TransferInput{FromID: req.FromID, ToID: req.ToID, Amount: amount, Memo: req.Memo, ActorID: req.ActorID})
		return err
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	s.recordAudit(ctx, "TRANSFER", out)
	return out, in, nil
}

// GetAccount returns current balance for display.
func (s *Service) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	if accountID == 0 {
		return Account{}, errors.New("ledger: account required")
	}
	return s.repo.GetAccount(ctx, accountID)
}

// DeactivateAccount soft-deletes an account. Its movement trail stays intact
// and further postings fail with ErrAccountInactive.
func (s *Service) DeactivateAccount(ctx context.Context, accountID, actorID int64) error {
	if accountID == 0 {
		return errors.New("ledger: account required")
	}
	if err := s.repo.Deactivate(ctx, accountID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "ledger:DEACTIVATE",
			Entity:   "payment_account",
			EntityID: fmt.Sprintf("%d", accountID),
		})
	}
	return nil
}

// ListMovements lists the audit trail of one account.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.AccountID == 0 {
		return nil, errors.New("ledger: account required")
	}
	return s.repo.ListMovements(ctx, filter)
}

func (s *Service) entryInput(req EntryRequest) (EntryInput, error) {
	if req.AccountID == 0 {
		return EntryInput{}, errors.New("ledger: account required")
	}
	amount, err := shared.ParseAmount(req.Amount)
	if err != nil || amount.Sign() <= 0 {
		return EntryInput{}, ErrInvalidAmount
	}
	return EntryInput{AccountID: req.AccountID, Amount: amount, Memo: req.Memo, ActorID: req.ActorID}, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, m Movement) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  m.ActorID,
		Action:   fmt.Sprintf("ledger:%s", action),
		Entity:   "payment_account",
		EntityID: fmt.Sprintf("%d", m.AccountID),
		Meta: map[string]any{
			"amount":        m.Amount.String(),
			"balance_after": m.BalanceAfter.String(),
			"memo":          m.Memo,
		},
	})
}
