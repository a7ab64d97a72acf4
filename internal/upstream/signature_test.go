package upstream

import (
	"strconv"
	"testing"
	"time"
)

func TestSignPayloadDeterministic(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_123_456)

	sig1, ts1 := signPayload("secret", "requestId,abc", "hello", now)
	sig2, ts2 := signPayload("secret", "requestId,abc", "hello", now)

	if sig1 != sig2 || ts1 != ts2 {
		t.Fatalf("signature not deterministic: %s/%s vs %s/%s", sig1, ts1, sig2, ts2)
	}
	if len(sig1) != 64 {
		t.Fatalf("expected hex sha256 signature, got %d chars", len(sig1))
	}
	if ts1 != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Fatalf("timestamp must be the millisecond unix time, got %s", ts1)
	}
}

func TestSignPayloadVaries(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1_700_000_123_456)
	base, _ := signPayload("secret", "requestId,abc", "hello", now)

	if sig, _ := signPayload("other-secret", "requestId,abc", "hello", now); sig == base {
		t.Fatalf("signature must depend on the secret")
	}
	if sig, _ := signPayload("secret", "requestId,abc", "different content", now); sig == base {
		t.Fatalf("signature must depend on the content")
	}
	if sig, _ := signPayload("secret", "requestId,other", "hello", now); sig == base {
		t.Fatalf("signature must depend on the parameter string")
	}
	if sig, _ := signPayload("secret", "requestId,abc", "hello", now.Add(time.Second)); sig == base {
		t.Fatalf("signature must depend on the timestamp")
	}
}
