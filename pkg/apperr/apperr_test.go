package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("send: %w", NotFound("message not found"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatal("expected wrapped not found to match sentinel")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatal("expected not found not to match conflict")
	}
}

func TestKindOfAndOperational(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		kind        Kind
		operational bool
	}{
		{name: "domain", err: Conflict("duplicate"), kind: KindConflict, operational: true},
		{name: "wrapped", err: fmt.Errorf("x: %w", ChannelBan("banned")), kind: KindChannelBan, operational: true},
		{name: "plain", err: errors.New("boom"), kind: KindInternal, operational: false},
		{name: "internal", err: Internal(errors.New("db down")), kind: KindInternal, operational: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.kind {
				t.Fatalf("kind = %s, want %s", got, tc.kind)
			}
			if got := Operational(tc.err); got != tc.operational {
				t.Fatalf("operational = %v, want %v", got, tc.operational)
			}
		})
	}
}

func TestMessageHidesInternalCause(t *testing.T) {
	if got := Message(errors.New("pq: connection refused")); got != "internal error" {
		t.Fatalf("message = %q", got)
	}
	if got := Message(Validation("text is required")); got != "text is required" {
		t.Fatalf("message = %q", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	if KindChannelBan.HTTPStatus() != http.StatusForbidden {
		t.Fatal("expected channel ban to map to 403")
	}
	if KindNotImplemented.HTTPStatus() != http.StatusNotImplemented {
		t.Fatal("expected not implemented to map to 501")
	}
	if Kind("other").HTTPStatus() != http.StatusInternalServerError {
		t.Fatal("expected unknown kind to map to 500")
	}
}
