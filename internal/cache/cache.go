package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"glmgate/internal/upstream"
)

// Key identifies one cached non-streaming completion. Hash is sha256 of
// the normalized request; Principal scopes entries per caller and
// Version invalidates everything on gateway upgrades.
type Key struct {
	Principal string
	ModelID   string
	Version   string
	Hash      string
}

// String renders the final key used in Redis/map form.
func (k Key) String() string {
	// chat:<PRINCIPAL>:<MODEL_ID>:<VERSION>:<HASH_HEX>
	return fmt.Sprintf("chat:%s:%s:%s:%s", k.Principal, k.ModelID, k.Version, k.Hash)
}

// Store is the completion cache interface, implemented by the memory
// backend (dev) and Redis (prod). Best-effort: errors are logged by the
// caller and treated as misses.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// BuildKey normalizes a completion request into a cache key. Only
// non-streaming requests are cached, so the stream flag is excluded
// from the hash.
func BuildKey(req *upstream.ChatRequest, principal, version string) (Key, error) {
	normalized := *req
	normalized.Stream = false

	body, err := json.Marshal(&normalized)
	if err != nil {
		return Key{}, err
	}

	modelID := strings.TrimSpace(req.Model)
	sum := sha256.Sum256(append([]byte("model:"+modelID+"|body:"), body...))

	return Key{
		Principal: strings.TrimSpace(principal),
		ModelID:   modelID,
		Version:   strings.TrimSpace(version),
		Hash:      hex.EncodeToString(sum[:]),
	}, nil
}
