package dbtest

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type counter struct {
	n int
}

func (c *counter) Snapshot() func() {
	saved := c.n
	return func() { c.n = saved }
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	c := &counter{n: 1}
	r := NewTxRunner(c)

	err := r.InTx(context.Background(), func(ctx context.Context) error {
		c.n = 5
		return errors.New("bed occupied")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.n != 1 {
		t.Errorf("expected rollback to 1, got %d", c.n)
	}
}

func TestTxRunner_KeepsCommittedState(t *testing.T) {
	c := &counter{}
	r := NewTxRunner(c)

	if err := r.InTx(context.Background(), func(ctx context.Context) error {
		c.n = 3
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.n != 3 {
		t.Errorf("expected 3, got %d", c.n)
	}
}

func TestTxRunner_NestedJoinsOuter(t *testing.T) {
	c := &counter{}
	r := NewTxRunner(c)

	err := r.InTx(context.Background(), func(ctx context.Context) error {
		c.n = 1
		// Would deadlock if the inner call tried to take the mutex again.
		if err := r.InTx(ctx, func(ctx context.Context) error {
			c.n = 2
			return nil
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if c.n != 0 {
		t.Errorf("expected the whole unit rolled back, got %d", c.n)
	}
}

func TestTxRunner_Serialises(t *testing.T) {
	c := &counter{}
	r := NewTxRunner(c)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.InTx(context.Background(), func(ctx context.Context) error {
				c.n++
				return nil
			})
		}()
	}
	wg.Wait()
	if c.n != 50 {
		t.Errorf("expected 50, got %d", c.n)
	}
}
