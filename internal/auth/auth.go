package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"glmgate/internal/apierr"
	"glmgate/pkg/logging"
)

// Principal marks an authenticated caller. Fingerprint is a short hash
// of the presented secret, safe to log; the secret itself never is.
type Principal struct {
	Fingerprint string
}

// Gate validates bearer credentials against a configured secret set.
// Stateless; comparison is constant-time per secret.
type Gate struct {
	secrets [][]byte
}

func NewGate(secrets []string) *Gate {
	g := &Gate{secrets: make([][]byte, 0, len(secrets))}
	for _, s := range secrets {
		if s != "" {
			g.secrets = append(g.secrets, []byte(s))
		}
	}
	return g
}

// Authenticate checks the raw Authorization header value. The Bearer
// scheme is required and matched case-insensitively per RFC 7235.
func (g *Gate) Authenticate(header string) (Principal, error) {
	if header == "" {
		return Principal{}, apierr.Unauthorized("missing Authorization header")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return Principal{}, apierr.Unauthorized("Authorization header must use the Bearer scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, apierr.Unauthorized("empty bearer token")
	}

	// Every configured secret is compared so the timing does not depend
	// on which one (if any) matched.
	presented := []byte(token)
	matched := 0
	for _, secret := range g.secrets {
		if len(secret) == len(presented) {
			matched |= subtle.ConstantTimeCompare(secret, presented)
		}
	}
	if matched != 1 {
		return Principal{}, apierr.Unauthorized("invalid bearer token")
	}

	return Principal{Fingerprint: fingerprint(presented)}, nil
}

// Middleware rejects unauthenticated requests with 401 before any other
// processing and attaches the Principal to the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.Authenticate(r.Header.Get("Authorization"))
		if err != nil {
			logging.L(r.Context()).Warn("request rejected",
				zap.String("reason", "unauthorized"),
			)
			apierr.WriteJSON(w, err)
			return
		}

		ctx := WithPrincipal(r.Context(), principal)
		ctx = logging.WithFields(ctx, zap.String("principal", principal.Fingerprint))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey int

const principalKey ctxKey = iota

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func fingerprint(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:4])
}
