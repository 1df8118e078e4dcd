// Package credentials produces the auth token attached to outbound
// requests.
//
// The token is a short HS256 JWT minted per request from credentials
// cached on disk during onboarding. No cached credentials is a normal
// state (the user has not logged in yet): callers treat it as "stay
// offline and keep queueing", never as a hard failure.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoCredentials reports that no usable credentials are available.
// The delivery worker maps this to the DISCONNECTED state.
var ErrNoCredentials = errors.New("no cached credentials")

// Source produces an auth token, or ErrNoCredentials when none can be
// made. Implementations must be safe for concurrent use.
type Source interface {
	Token() (string, error)
}

// Static is a fixed-token source, mainly for tests. The empty string
// behaves like missing credentials.
type Static string

// Token returns the fixed token.
func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoCredentials
	}
	return string(s), nil
}

// FileSource reads cached credentials from credentials.json under Dir
// and signs a token with the stored user key. The file is re-read on
// every call so a login or logout takes effect without restarting the
// client.
type FileSource struct {
	Dir string
}

type cachedCredentials struct {
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	UserKey string `json:"user_key"`
}

// Token mints an HS256 JWT identifying this watcher to the collector.
func (f FileSource) Token() (string, error) {
	b, err := os.ReadFile(filepath.Join(f.Dir, "credentials.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredentials
		}
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var c cachedCredentials
	if err := json.Unmarshal(b, &c); err != nil {
		return "", fmt.Errorf("parse credentials: %w", err)
	}
	if c.UserKey == "" {
		return "", ErrNoCredentials
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user":  "watcher",
		"email": c.Email,
		"phone": c.Phone,
	})
	signed, err := tok.SignedString([]byte(c.UserKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
