// Package metadata talks to a tenant's identity service, which holds per-user
// metadata able to override the plan and features carried in credentials.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrNotFound is returned when the identity service has no such user.
var ErrNotFound = errors.New("user not found")

// FeatureList accepts either a JSON array of tags or a comma separated string.
type FeatureList []string

func (f *FeatureList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("features: expected array or string: %w", err)
	}
	if strings.TrimSpace(s) == "" {
		*f = nil
		return nil
	}
	*f = strings.Split(s, ",")
	return nil
}

// Metadata is the subset of user metadata this service reads and writes.
type Metadata struct {
	Plan     string      `json:"plan,omitempty"`
	Features FeatureList `json:"features,omitempty"`
}

// Empty reports whether neither field is set.
func (m Metadata) Empty() bool { return strings.TrimSpace(m.Plan) == "" && len(m.Features) == 0 }

type User struct {
	ID              string   `json:"id"`
	PrivateMetadata Metadata `json:"private_metadata"`
	PublicMetadata  Metadata `json:"public_metadata"`
}

// Client is the contract of a tenant identity service.
type Client interface {
	GetUser(ctx context.Context, subjectID string) (User, error)
	// UpdateUserMetadata merges public metadata for the user.
	UpdateUserMetadata(ctx context.Context, subjectID string, public Metadata) error
}

// HTTPClient implements Client against a REST identity service exposing
// GET /v1/users/{id} and PATCH /v1/users/{id}/metadata with bearer auth.
type HTTPClient struct {
	baseURL string
	secret  string
	hc      *http.Client
}

func NewHTTPClient(baseURL, secret string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) GetUser(ctx context.Context, subjectID string) (User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(subjectID), nil)
	if err != nil {
		return User{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return User{}, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return User{}, fmt.Errorf("get user: identity service returned status %d", resp.StatusCode)
	}
	var u User
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&u); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

func (c *HTTPClient) UpdateUserMetadata(ctx context.Context, subjectID string, public Metadata) error {
	body, err := json.Marshal(map[string]any{"public_metadata": public})
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPatch, "/v1/users/"+url.PathEscape(subjectID)+"/metadata", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("update metadata: identity service returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
