// Package dbtest provides a transaction runner for in-memory repositories.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is an in-memory store that can be rolled back. Snapshot
// returns a function restoring the state at the time of the call.
type Snapshotter interface {
	Snapshot() (restore func())
}

type inTxKey struct{}

// TxRunner runs one transaction at a time, which stands in for the row
// locks of the Postgres runner. When fn fails every registered store is
// restored, newest snapshot first.
type TxRunner struct {
	mu     sync.Mutex
	stores []Snapshotter
}

func NewTxRunner(stores ...Snapshotter) *TxRunner {
	return &TxRunner{stores: stores}
}

// InTx joins the enclosing transaction when ctx already carries one.
func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(inTxKey{}) != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restores := make([]func(), len(r.stores))
	for i, s := range r.stores {
		restores[i] = s.Snapshot()
	}
	if err := fn(context.WithValue(ctx, inTxKey{}, true)); err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		return err
	}
	return nil
}
