package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/packfinderz-settlement/api/responses"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

func TestRecovererWritesInternalEnvelopeWithRequestID(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("ledger exploded")
	})
	handler := RequestID(nil)(Recoverer(nil)(panicky))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts", nil)
	req.Header.Set(responses.RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.RequestID != "req-42" {
		t.Fatalf("expected request id echoed, got %q", body.Error.RequestID)
	}
	if !body.Error.Retryable {
		t.Fatalf("internal errors should be marked retryable")
	}
	if strings.Contains(body.Error.Message, "ledger exploded") {
		t.Fatalf("panic value leaked: %q", body.Error.Message)
	}
}

func TestRecovererReraisesAbortHandler(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Fatalf("expected ErrAbortHandler to propagate, got %v", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(responses.RequestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(responses.RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "" || len(seen) > maxRequestIDLength {
		t.Fatalf("expected a fresh request id, got %q", seen)
	}
}

func TestInboundRequestID(t *testing.T) {
	cases := map[string]bool{
		"req-42":             true,
		"  spaced-ok  ":      true,
		"":                   false,
		"has space":          false,
		"line\nbreak":        false,
		"café":          false,
		strings.Repeat("a", maxRequestIDLength): true,
	}
	for raw, want := range cases {
		if _, ok := inboundRequestID(raw); ok != want {
			t.Errorf("inboundRequestID(%q) = %v, want %v", raw, ok, want)
		}
	}
}
