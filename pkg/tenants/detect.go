package tenants

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvedTenant means a credential could not be attributed to any
// configured tenant. Callers must reject the request.
var ErrUnresolvedTenant = errors.New("unresolved tenant")

// Detect attributes a raw credential to a tenant by peeking at its unverified
// payload. Nothing returned here is trusted: verification against the
// tenant's key re-confirms the choice.
//
// A credential that is not three dot-separated segments yields the default
// tenant. A decodable payload whose issuer matches no rule for the active
// environment is an error, so a forged issuer cannot fall through to the default.
func (r *Registry) Detect(raw string) (ID, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return r.defaultID, nil
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: payload is not base64url: %v (check %s)", ErrUnresolvedTenant, err, r.hint)
	}
	var body struct {
		Issuer string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("%w: payload is not JSON: %v (check %s)", ErrUnresolvedTenant, err, r.hint)
	}
	if body.Issuer == "" {
		return "", fmt.Errorf("%w: credential has no issuer (check %s)", ErrUnresolvedTenant, r.hint)
	}
	for _, id := range r.order {
		for _, rule := range r.byID[id].Issuers[r.env] {
			if rule.Match(body.Issuer) {
				return id, nil
			}
		}
	}
	return "", fmt.Errorf("%w: issuer %q matches no %s tenant (check %s)", ErrUnresolvedTenant, body.Issuer, r.env, r.hint)
}

func decodeSegment(seg string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
}
