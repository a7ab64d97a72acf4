package cache

import (
	"strings"
	"testing"

	"glmgate/internal/upstream"
)

func testReq(model, content string) *upstream.ChatRequest {
	return &upstream.ChatRequest{
		Model:    model,
		Messages: []upstream.ChatMessage{{Role: upstream.RoleUser, Content: content}},
	}
}

func TestBuildKeyIgnoresStreamFlag(t *testing.T) {
	t.Parallel()

	a := testReq("glm-4.6", "hi")
	b := testReq("glm-4.6", "hi")
	b.Stream = true

	ka, err := BuildKey(a, "p1", "v1")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}
	kb, err := BuildKey(b, "p1", "v1")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}

	if ka.Hash != kb.Hash {
		t.Fatalf("stream flag must not affect the cache key")
	}
}

func TestBuildKeyScoping(t *testing.T) {
	t.Parallel()

	base, _ := BuildKey(testReq("glm-4.6", "hi"), "p1", "v1")

	if k, _ := BuildKey(testReq("glm-4.6", "hi"), "p2", "v1"); k.String() == base.String() {
		t.Fatalf("key must be scoped per principal")
	}
	if k, _ := BuildKey(testReq("glm-4.6", "hi"), "p1", "v2"); k.String() == base.String() {
		t.Fatalf("key must be scoped per gateway version")
	}
	if k, _ := BuildKey(testReq("glm-4.5", "hi"), "p1", "v1"); k.Hash == base.Hash {
		t.Fatalf("key must depend on the model")
	}
	if k, _ := BuildKey(testReq("glm-4.6", "other"), "p1", "v1"); k.Hash == base.Hash {
		t.Fatalf("key must depend on the messages")
	}
}

func TestKeyStringRoundTrips(t *testing.T) {
	t.Parallel()

	k, err := BuildKey(testReq("glm-4.6", "hi"), "p1", "v1")
	if err != nil {
		t.Fatalf("BuildKey: %v", err)
	}

	s := k.String()
	if !strings.HasPrefix(s, "chat:") {
		t.Fatalf("unexpected key prefix: %s", s)
	}

	parts, ok := parseKey(s)
	if !ok {
		t.Fatalf("key does not parse: %s", s)
	}
	if parts.principal != "p1" || parts.modelID != "glm-4.6" || parts.version != "v1" || parts.hash != k.Hash {
		t.Fatalf("parsed key mismatch: %#v", parts)
	}
}
