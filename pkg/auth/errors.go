package auth

import (
	"errors"
	"fmt"
	"net/http"

	"tenantgate/pkg/tenants"
)

// Kind classifies authenticity failures. Each kind rejects the request;
// enrichment and quota failures never surface as an *Error.
type Kind string

const (
	KindNoCredential       Kind = "no_credential"
	KindUnresolvedTenant   Kind = "unresolved_tenant"
	KindTrustRootMissing   Kind = "trust_root_missing"
	KindVerificationFailed Kind = "verification_failed"
)

// ErrAuthenticationRequired is wrapped by KindNoCredential errors.
var ErrAuthenticationRequired = errors.New("authentication required")

type Error struct {
	Kind   Kind
	Tenant tenants.ID
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNoCredential:
		return "authentication required"
	case KindUnresolvedTenant:
		return fmt.Sprintf("unresolved tenant: %v", e.Err)
	case KindTrustRootMissing:
		return fmt.Sprintf("trust root not configured for tenant %q", e.Tenant)
	case KindVerificationFailed:
		return fmt.Sprintf("invalid or expired credential: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps the kind to an HTTP status.
func (e *Error) Status() int {
	if e.Kind == KindTrustRootMissing {
		return http.StatusInternalServerError
	}
	return http.StatusUnauthorized
}

// Title is the short problem title for the kind.
func (e *Error) Title() string {
	switch e.Kind {
	case KindNoCredential:
		return "Authentication required"
	case KindUnresolvedTenant:
		return "Unrecognised credential issuer"
	case KindTrustRootMissing:
		return "Trust root not configured"
	case KindVerificationFailed:
		return "Invalid or expired credential"
	}
	return "Unauthorized"
}

// KindOf returns the kind of an authenticity error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
