package util

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestDomainErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NewPolicyDenied("nope"))
	if !errors.Is(err, ErrPolicyDenied) {
		t.Fatalf("expected policy denied to match sentinel")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("policy denied must not match validation sentinel")
	}
}

func TestStoreError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"miss", pgx.ErrNoRows, CodeNotFound, http.StatusNotFound},
		{"backend", errors.New("connection refused"), CodeStoreUnavailable, http.StatusServiceUnavailable},
		{"domain passthrough", NewInvalidAssignee("blank"), CodeInvalidAssignee, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := ToDomainError(StoreError(tc.err, "ticket", nil))
			if de.Code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, de.Code)
			}
			if de.HTTPStatus != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, de.HTTPStatus)
			}
		})
	}
	if StoreError(nil, "ticket", nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestToDomainErrorFallsBackToInternal(t *testing.T) {
	de := ToDomainError(errors.New("boom"))
	if de.Code != CodeInternal || de.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unexpected mapping: %+v", de)
	}
	if de.Err == nil {
		t.Fatalf("expected cause to be kept")
	}
}
