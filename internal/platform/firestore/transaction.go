package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/status"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txContextKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// TransactionFrom returns the transaction bound to ctx by UnitOfWork, or nil.
func TransactionFrom(ctx context.Context) *firestore.Transaction {
	tx, _ := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx
}

// UnitOfWork runs a function inside a Firestore transaction. Repositories built on
// BaseRepository pick the transaction up from the context, so services stay unaware of it.
//
// Firestore retries the function on contention, so it must be safe to re-run and must perform
// every read before its first write.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork binds a UnitOfWork to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx executes fn in a transaction. A nested call joins the outer transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("firestore: transaction function is nil")
	}
	if TransactionFrom(ctx) != nil {
		return fn(ctx)
	}
	if u == nil || u.provider == nil {
		return WrapError("transaction", errors.New("firestore: provider is nil"))
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range u.opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	err = client.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(txCtx, txContextKey{}, tx))
	}, firestore.MaxAttempts(cfg.attempts))
	if err == nil {
		return nil
	}
	// Errors raised by fn already carry their own meaning; only wrap what Firestore produced.
	var repoErr *Error
	if errors.As(err, &repoErr) {
		return err
	}
	if _, isStatus := status.FromError(err); isStatus {
		return WrapError("transaction", err)
	}
	return err
}
