package errorutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestToDomainError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"no rows", fmt.Errorf("get ticket: %w", pgx.ErrNoRows), "NOT_FOUND", http.StatusNotFound},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), "TIMEOUT", http.StatusGatewayTimeout},
		{"plain", errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
		{"wrapped domain", fmt.Errorf("apply: %w", NewInvalidTransition(errors.New("cannot approve paid ticket"), nil)), "INVALID_TRANSITION", http.StatusConflict},
		{"malformed", NewMalformedTicket(errors.New("bad"), map[string]any{"quantity": "must be a non-negative number"}), "MALFORMED_TICKET", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			de := ToDomainError(tc.err)
			if de.Code != tc.code || de.HTTPStatus != tc.status {
				t.Fatalf("got %s/%d, want %s/%d", de.Code, de.HTTPStatus, tc.code, tc.status)
			}
		})
	}
	if ToDomainError(nil) != nil {
		t.Fatalf("nil error must map to nil")
	}
}

func TestInvalidTransitionKeepsCause(t *testing.T) {
	cause := errors.New("invalid transition")
	err := NewInvalidTransition(fmt.Errorf("approve paid: %w", cause), nil)
	if !errors.Is(err, cause) {
		t.Fatalf("cause must stay reachable")
	}
}
