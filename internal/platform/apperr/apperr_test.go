package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestErrorsIs_MatchesKind(t *testing.T) {
	err := fmt.Errorf("open assignment: %w", BedUnavailable("bed %s is occupied", "B1"))
	if !errors.Is(err, ErrBedUnavailable) {
		t.Error("expected wrapped error to match ErrBedUnavailable")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("did not expect a match on ErrValidation")
	}
}

func TestFromDB(t *testing.T) {
	if FromDB(nil, "bed") != nil {
		t.Fatal("expected nil for nil error")
	}

	err := FromDB(pgx.ErrNoRows, "bed")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		t.Error("expected the pgx error to stay in the chain")
	}

	err = FromDB(errors.New("connection reset"), "bed")
	if KindOf(err) != KindInternal {
		t.Errorf("expected internal, got %s", KindOf(err))
	}

	orig := Validation("bad")
	if FromDB(orig, "bed") != error(orig) {
		t.Error("expected classified errors to pass through unchanged")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{BedUnavailable("x"), http.StatusConflict},
		{InvalidTransition("x"), http.StatusConflict},
		{DuplicateActiveAdmission("x"), http.StatusConflict},
		{Validation("x"), http.StatusBadRequest},
		{NotFound("x"), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.err); got != tt.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHTTPError_HidesInternalDetails(t *testing.T) {
	he := HTTPError(errors.New("password=secret"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("unexpected message: %v", he.Message)
	}

	he = HTTPError(Validation("capacity must be at least 1"))
	body, ok := he.Message.(map[string]string)
	if !ok {
		t.Fatalf("expected map message, got %T", he.Message)
	}
	if body["code"] != string(KindValidation) {
		t.Errorf("expected code %s, got %s", KindValidation, body["code"])
	}
}
