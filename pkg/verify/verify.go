// Package verify checks credential signatures and validity windows against a
// tenant trust key.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"tenantgate/pkg/identity"
)

// Verifier validates a raw credential against a trust key and returns its claims.
type Verifier interface {
	Verify(ctx context.Context, token, key string) (identity.Claims, error)
}

// JWX verifies JWTs with lestrrat-go/jwx. The key is either a shared HMAC
// secret or a PEM encoded public key (RSA, EC or Ed25519); the signing
// algorithm is inferred from the key.
type JWX struct {
	skew time.Duration
	keys *keyCache
}

func NewJWX(skew time.Duration) *JWX {
	return &JWX{skew: skew, keys: &keyCache{sets: map[string]jwk.Set{}}}
}

func (v *JWX) Verify(ctx context.Context, token, key string) (identity.Claims, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("empty trust key")
	}
	set, err := v.keys.get(key)
	if err != nil {
		return nil, fmt.Errorf("trust key: %w", err)
	}
	tok, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true), jws.WithRequireKid(false)),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.skew),
	)
	if err != nil {
		return nil, err
	}
	m, err := tok.AsMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("claims: %w", err)
	}
	return identity.Claims(m), nil
}

// keyCache holds parsed key sets per raw key string. Trust keys are fixed at
// startup so entries never expire.
type keyCache struct {
	mu   sync.RWMutex
	sets map[string]jwk.Set
}

func (c *keyCache) get(raw string) (jwk.Set, error) {
	c.mu.RLock()
	if s, ok := c.sets[raw]; ok {
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sets[raw]; ok {
		return s, nil
	}
	key, err := parseKey(raw)
	if err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	c.sets[raw] = set
	return set, nil
}

func parseKey(raw string) (jwk.Key, error) {
	if strings.Contains(raw, "-----BEGIN") {
		// Keys pasted into env files often carry literal \n sequences.
		pem := strings.ReplaceAll(raw, `\n`, "\n")
		return jwk.ParseKey([]byte(pem), jwk.WithPEM(true))
	}
	return jwk.FromRaw([]byte(raw))
}
