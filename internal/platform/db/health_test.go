package db

import (
	"context"
	"errors"
	"testing"
)

func TestRunChecks(t *testing.T) {
	checks := []Check{
		{Name: "postgres", Ping: func(context.Context) error { return nil }},
		{Name: "redis", Ping: func(context.Context) error { return errors.New("connection refused") }},
	}

	got := runChecks(context.Background(), checks)

	if got["postgres"] != "ok" {
		t.Errorf("expected postgres ok, got %q", got["postgres"])
	}
	if got["redis"] != "connection refused" {
		t.Errorf("expected redis error message, got %q", got["redis"])
	}
}

func TestRunChecks_Empty(t *testing.T) {
	if got := runChecks(context.Background(), nil); len(got) != 0 {
		t.Errorf("expected no results, got %v", got)
	}
}
