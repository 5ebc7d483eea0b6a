package reqflow

import (
	"encoding/base64"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

type jwtClaims struct {
	Exp int64 `json:"exp"`
}

// jwtExpiringWithin reports whether token's exp claim falls within skew of
// now. It never verifies the signature — this is a latency optimisation
// ahead of the server's own check, not an auth boundary. A token that isn't
// a parseable three-segment JWT, or carries no exp claim, reports false so
// callers fall through to the normal reactive-401 path instead of forcing a
// refresh on a token this check can't reason about.
func jwtExpiringWithin(token string, skew time.Duration, now time.Time) bool {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Exp == 0 {
		return false
	}
	return now.Add(skew).After(time.Unix(claims.Exp, 0))
}
