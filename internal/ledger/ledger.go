// Package ledger meters per-user credits for each capability. Balances are
// only ever reduced through a conditional decrement on the authoritative
// store, and only after the guarded work has succeeded.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/digkill/medpost/internal/models"
)

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("charge amount must be positive")
)

// Store is the authoritative balance storage.
type Store interface {
	Balance(ctx context.Context, userID string, capability models.Capability) (int, error)
	// Decrement subtracts amount only if the current balance is at least
	// amount. It reports false when the condition did not hold.
	Decrement(ctx context.Context, userID string, capability models.Capability, amount int) (bool, error)
}

// Locker serialises check-run-debit sequences for one user and capability
// across concurrent sessions.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PersistenceError means the guarded work succeeded but the debit could not be
// recorded. Callers must not re-run the work.
type PersistenceError struct {
	UserID     string
	Capability models.Capability
	Amount     int
	Err        error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("debit %d %s credits for user %s not recorded: %v", e.Amount, e.Capability, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Receipt describes a completed charge.
type Receipt struct {
	Charged int
	// Warning is set when the work succeeded but the debit was not persisted.
	Warning *PersistenceError
}

type Config struct {
	PersistAttempts int
	PersistBackoff  time.Duration
}

type Ledger struct {
	store  Store
	locker Locker
	log    *slog.Logger
	cfg    Config
}

func New(store Store, locker Locker, log *slog.Logger, cfg Config) *Ledger {
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 200 * time.Millisecond
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, locker: locker, log: log, cfg: cfg}
}

func (l *Ledger) Balance(ctx context.Context, userID string, capability models.Capability) (int, error) {
	balance, err := l.store.Balance(ctx, userID, capability)
	if err != nil {
		return 0, fmt.Errorf("read %s balance: %w", capability, err)
	}
	return balance, nil
}

// Debit atomically removes amount from the balance or fails with
// ErrInsufficientCredits leaving the balance untouched.
func (l *Ledger) Debit(ctx context.Context, userID string, capability models.Capability, amount int) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	ok, err := l.store.Decrement(ctx, userID, capability, amount)
	if err != nil {
		return fmt.Errorf("debit %s credits: %w", capability, err)
	}
	if !ok {
		return ErrInsufficientCredits
	}
	return nil
}

// Charge checks the balance, runs work and debits amount only if work
// succeeded. Work is never invoked when the balance is short, and its error is
// returned unchanged.
func (l *Ledger) Charge(ctx context.Context, userID string, capability models.Capability, amount int, work func(context.Context) error) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	unlock, err := l.locker.Lock(ctx, lockKey(userID, capability))
	if err != nil {
		return nil, fmt.Errorf("lock %s credits: %w", capability, err)
	}
	defer unlock()

	balance, err := l.Balance(ctx, userID, capability)
	if err != nil {
		return nil, err
	}
	if balance < amount {
		return nil, ErrInsufficientCredits
	}

	if err := work(ctx); err != nil {
		return nil, err
	}

	receipt := &Receipt{Charged: amount}
	if perr := l.commit(ctx, userID, capability, amount); perr != nil {
		l.log.Warn("credit debit not persisted", "user", userID, "capability", capability, "amount", amount, "err", perr.Err)
		receipt.Charged = 0
		receipt.Warning = perr
	}
	return receipt, nil
}

// commit retries store failures. A failed condition is not retried since the
// balance moved underneath us.
func (l *Ledger) commit(ctx context.Context, userID string, capability models.Capability, amount int) *PersistenceError {
	// the work already ran; a cancelled request must not skip the debit
	ctx = context.WithoutCancel(ctx)

	delay := l.cfg.PersistBackoff
	var lastErr error
	for attempt := 0; attempt < l.cfg.PersistAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
			delay *= 2
		}
		ok, err := l.store.Decrement(ctx, userID, capability, amount)
		if err != nil {
			lastErr = err
			l.log.Debug("debit attempt failed", "user", userID, "attempt", attempt+1, "err", err)
			continue
		}
		if !ok {
			return &PersistenceError{UserID: userID, Capability: capability, Amount: amount, Err: ErrInsufficientCredits}
		}
		return nil
	}
	return &PersistenceError{UserID: userID, Capability: capability, Amount: amount, Err: lastErr}
}

func lockKey(userID string, capability models.Capability) string {
	return "credits:" + userID + ":" + string(capability)
}
