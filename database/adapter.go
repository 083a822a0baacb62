package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/resilience/classify"
	"github.com/vietddude/resilience/retry"
)

// BreakerKey is the dependency key all database adapters share.
const BreakerKey = "database"

// dbOptions prepends the database policy and classifier so callers can still
// override individual knobs.
func dbOptions(opts []retry.Option) []retry.Option {
	base := []retry.Option{
		retry.WithPolicy(retry.DatabasePolicy()),
		retry.WithKey(BreakerKey),
		retry.WithClassifier(classify.ClassifyDatabase),
	}
	return append(base, opts...)
}

// WithRetry runs a single query under the database retry policy and the
// SQLSTATE classifier.
func WithRetry[T any](ctx context.Context, svc *retry.Service, op func(context.Context) (T, error), opts ...retry.Option) retry.Result[T] {
	return retry.Execute(ctx, svc, op, dbOptions(opts)...)
}

// Tx is the handle passed to transaction bodies. It tracks whether the body
// committed so a later failure cannot trigger a retry that would re-apply
// already-committed writes.
type Tx struct {
	sqlx.ExtContext
	commitFn   func() error
	rollbackFn func() error
	committed  bool
	done       bool
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.commitFn(); err != nil {
		return err
	}
	t.committed = true
	return nil
}

// Rollback rolls back the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.rollbackFn()
}

// Committed reports whether Commit succeeded.
func (t *Tx) Committed() bool { return t.committed }

// TxBeginner starts commit-tracked transactions. *DB implements it; tests
// supply fakes.
type TxBeginner interface {
	BeginTx(ctx context.Context) (*Tx, error)
}

// WithTransaction runs body inside a transaction under the database retry
// policy. The whole body is retried while failures stay transient, but only
// if nothing has committed yet: once the body commits and then fails, the
// error is surfaced as permanent regardless of its original category.
func WithTransaction(ctx context.Context, svc *retry.Service, db TxBeginner, body func(context.Context, *Tx) error, opts ...retry.Option) retry.Result[struct{}] {
	return retry.Do(ctx, svc, func(ctx context.Context) error {
		tx, err := db.BeginTx(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if err := body(ctx, tx); err != nil {
			if tx.committed {
				return classify.NotRetriable(classify.Permanent,
					fmt.Errorf("transaction partially committed, refusing retry: %w", err))
			}
			return err
		}

		if !tx.committed {
			return tx.Commit()
		}
		return nil
	}, dbOptions(opts)...)
}

// ItemStatus is the batch outcome for one item.
type ItemStatus int

const (
	ItemSucceeded ItemStatus = iota
	ItemFailed
	ItemSkipped
)

// String returns the status name.
func (s ItemStatus) String() string {
	switch s {
	case ItemSucceeded:
		return "succeeded"
	case ItemFailed:
		return "failed"
	case ItemSkipped:
		return "skipped"
	default:
		return "invalid"
	}
}

// ItemResult pairs an item with its retry outcome. Skipped items were never
// attempted and carry no Result.
type ItemResult[T any] struct {
	Item   T
	Status ItemStatus
	Result retry.Result[struct{}]
}

// BatchResult aggregates per-item outcomes.
type BatchResult[T any] struct {
	Items     []ItemResult[T]
	Succeeded int
	Failed    int
	Skipped   int
}

// BatchOptions control batch execution.
type BatchOptions struct {
	// ContinueOnError runs every item independently. When false, the first
	// failed item aborts the batch and the remainder is reported skipped.
	ContinueOnError bool
	// Concurrency bounds parallel items when ContinueOnError is set.
	// Values below 1 run sequentially.
	Concurrency int
}

// WithBatch applies fn to each item under the database retry policy.
func WithBatch[T any](ctx context.Context, svc *retry.Service, items []T, fn func(context.Context, T) error, opts BatchOptions) BatchResult[T] {
	out := BatchResult[T]{Items: make([]ItemResult[T], len(items))}
	for i, item := range items {
		out.Items[i] = ItemResult[T]{Item: item, Status: ItemSkipped}
	}

	if !opts.ContinueOnError {
		for i, item := range items {
			res := retry.Do(ctx, svc, func(ctx context.Context) error {
				return fn(ctx, item)
			}, dbOptions(nil)...)

			if res.Succeeded {
				out.Items[i] = ItemResult[T]{Item: item, Status: ItemSucceeded, Result: res}
				out.Succeeded++
				continue
			}
			out.Items[i] = ItemResult[T]{Item: item, Status: ItemFailed, Result: res}
			out.Failed++
			out.Skipped = len(items) - i - 1
			return out
		}
		return out
	}

	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, item := range items {
		g.Go(func() error {
			res := retry.Do(ctx, svc, func(ctx context.Context) error {
				return fn(ctx, item)
			}, dbOptions(nil)...)

			status := ItemFailed
			if res.Succeeded {
				status = ItemSucceeded
			}
			out.Items[i] = ItemResult[T]{Item: item, Status: status, Result: res}
			return nil
		})
	}
	_ = g.Wait()

	for _, ir := range out.Items {
		switch ir.Status {
		case ItemSucceeded:
			out.Succeeded++
		case ItemFailed:
			out.Failed++
		case ItemSkipped:
			out.Skipped++
		}
	}
	return out
}
