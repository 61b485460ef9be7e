package tenants

import (
	"strings"

	"tenantgate/pkg/plans"
)

// ID names a logical tenant application that issues credentials.
type ID string

// IssuerRule matches an unverified issuer string. Exactly one of Prefix or
// Contains is expected; a rule with both requires both.
type IssuerRule struct {
	Prefix   string `yaml:"prefix" json:"prefix"`
	Contains string `yaml:"contains" json:"contains"`
}

func (r IssuerRule) Match(iss string) bool {
	if r.Prefix == "" && r.Contains == "" {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(iss, r.Prefix) {
		return false
	}
	if r.Contains != "" && !strings.Contains(iss, r.Contains) {
		return false
	}
	return true
}

// IdentityService locates the tenant's own identity-service client.
type IdentityService struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	SecretEnv string `yaml:"secret_env" json:"secret_env"`
	Secret    string `yaml:"-" json:"-"`
}

// ClaimPaths are JMESPath expressions locating identity fields in verified claims.
type ClaimPaths struct {
	Subject  string `yaml:"subject" json:"subject"`
	Plan     string `yaml:"plan" json:"plan"`
	Features string `yaml:"features" json:"features"`
}

func (c ClaimPaths) withDefaults() ClaimPaths {
	if c.Subject == "" {
		c.Subject = "sub"
	}
	if c.Plan == "" {
		c.Plan = "pla"
	}
	if c.Features == "" {
		c.Features = "fea"
	}
	return c
}

// Tenant is the static configuration of one tenant application.
type Tenant struct {
	ID ID `yaml:"id" json:"id"`
	// Issuers holds rules keyed by environment ("dev", "prod").
	Issuers         map[string][]IssuerRule `yaml:"issuers" json:"issuers"`
	KeyEnv          string                  `yaml:"key_env" json:"key_env"`
	Key             string                  `yaml:"-" json:"-"`
	IdentityService IdentityService         `yaml:"identity_service" json:"identity_service"`
	Claims          ClaimPaths              `yaml:"claims" json:"claims"`
	Limits          plans.Table             `yaml:"limits" json:"limits"`
}
