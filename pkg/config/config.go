// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Tenant registry source. When TenantsFile is empty a single tenant is built
	// from DefaultTenant + the issuer/key variables below.
	TenantsFile      string
	DefaultTenant    string
	DevIssuerPrefix  string
	ProdIssuerPrefix string
	VerificationKey  string

	// Shared identity-service client used when a tenant has none of its own.
	IdentityServiceURL    string
	IdentityServiceSecret string

	// Dev bypass
	DevSubjectHeader string
	DevSubjectID     string

	ClockSkew       time.Duration
	IdentityTimeout time.Duration
	StorageTimeout  time.Duration

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string
}

// IsDevelopment reports whether the process runs in the explicit development
// environment. Anything other than "dev", including an unset TENANTGATE_ENV,
// is treated as production.
func (c Config) IsDevelopment() bool { return c.Env == EnvDev }

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                   normalizeEnv(env("TENANTGATE_ENV", EnvProd)),
		HTTPAddr:              env("TENANTGATE_HTTP_ADDR", ":8080"),
		TenantsFile:           env("TENANTS_FILE", ""),
		DefaultTenant:         env("DEFAULT_TENANT", "default"),
		DevIssuerPrefix:       env("DEV_ISSUER_PREFIX", ""),
		ProdIssuerPrefix:      env("PROD_ISSUER_PREFIX", ""),
		VerificationKey:       env("JWT_VERIFICATION_KEY", ""),
		IdentityServiceURL:    env("IDENTITY_SERVICE_URL", ""),
		IdentityServiceSecret: env("IDENTITY_SERVICE_SECRET", ""),
		DevSubjectHeader:      env("DEV_SUBJECT_HEADER", "X-Dev-Subject-Id"),
		DevSubjectID:          env("DEV_SUBJECT_ID", "dev-user"),
		ClockSkew:             envDur("JWT_CLOCK_SKEW_SEC", 30) * time.Second,
		IdentityTimeout:       envDur("IDENTITY_TIMEOUT_MS", 3000) * time.Millisecond,
		StorageTimeout:        envDur("STORAGE_TIMEOUT_MS", 2000) * time.Millisecond,
		RedisURL:              env("REDIS_URL", ""),
		DatabaseURL:           env("DATABASE_URL", ""),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set, using in-memory usage store")
	}
	if cfg.TenantsFile == "" && cfg.VerificationKey == "" && !cfg.IsDevelopment() {
		log.Println("[WARN] neither TENANTS_FILE nor JWT_VERIFICATION_KEY set, every credential will be rejected")
	}
	return cfg
}

func normalizeEnv(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "dev", "development", "local":
		return EnvDev
	default:
		return EnvProd
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return time.Duration(i)
		}
	}
	return time.Duration(def)
}
