package apierr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFromStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		upstream int
		status   int
		typ      Type
	}{
		{http.StatusTooManyRequests, http.StatusTooManyRequests, TypeRateLimited},
		{http.StatusUnauthorized, http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusForbidden, http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusBadRequest, http.StatusBadRequest, TypeValidation},
		{http.StatusNotFound, http.StatusNotFound, TypeValidation},
		{http.StatusInternalServerError, http.StatusBadGateway, TypeUpstreamServer},
		{http.StatusServiceUnavailable, http.StatusBadGateway, TypeUpstreamServer},
	}

	for _, tc := range cases {
		e := FromStatus(tc.upstream, "boom")
		if e.Status != tc.status {
			t.Errorf("FromStatus(%d): status %d, want %d", tc.upstream, e.Status, tc.status)
		}
		if e.Type != tc.typ {
			t.Errorf("FromStatus(%d): type %s, want %s", tc.upstream, e.Type, tc.typ)
		}
	}
}

func TestFromNormalizesUnknownErrors(t *testing.T) {
	t.Parallel()

	plain := errors.New("database exploded at 10.0.0.5")
	e := From(plain)
	if e.Type != TypeInternal || e.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected normalization: %#v", e)
	}
	// The raw message must not leak to the client.
	if e.Message != "internal server error" {
		t.Fatalf("internal detail leaked: %q", e.Message)
	}
	if !errors.Is(e, plain) {
		t.Fatalf("wrapped cause lost")
	}

	orig := Validation("bad input")
	if got := From(orig); got != orig {
		t.Fatalf("already-typed errors must pass through")
	}
}

func TestWriteJSONBody(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	WriteJSON(rr, Timeout(PhaseIdle, errors.New("read deadline")))

	if rr.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Type != string(TypeUpstreamTimeout) || body.Error.Code != 504 {
		t.Fatalf("unexpected body: %+v", body.Error)
	}
	if body.Error.Message == "" {
		t.Fatalf("missing message")
	}
}
