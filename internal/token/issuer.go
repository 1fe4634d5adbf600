package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/friendrelay/friendrelay/internal/credential"
	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog/log"
)

// maxResponseBytes bounds how much of an issuer response is read.
const maxResponseBytes = 1 << 20

// Exchanger trades a credential for a token.
type Exchanger interface {
	Exchange(ctx context.Context, cred credential.Credential) (string, error)
}

// FetchError describes why no token was issued for an identity.
type FetchError struct {
	Identity string
	Reason   string
	Cause    error
}

func (e FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("token fetch for %s failed: %s: %v", e.Identity, e.Reason, e.Cause)
	}
	return fmt.Sprintf("token fetch for %s failed: %s", e.Identity, e.Reason)
}

func (e FetchError) Unwrap() error {
	return e.Cause
}

// IssuerClient exchanges credentials with the HTTP token issuing service,
// passing the identity and secret as query parameters.
type IssuerClient struct {
	endpoint *url.URL
	client   *http.Client
}

// NewIssuerClient creates an issuer client for endpoint. A nil client uses
// http.DefaultClient.
func NewIssuerClient(endpoint string, client *http.Client) (*IssuerClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL: %w", err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("issuer URL must be absolute: %s", endpoint)
	}

	if client == nil {
		client = http.DefaultClient
	}

	return &IssuerClient{endpoint: u, client: client}, nil
}

// Exchange requests a token for cred. It succeeds only on a 200 response
// whose JSON body carries a non-empty "token", either at the top level of an
// object or in the first element of a list.
func (c *IssuerClient) Exchange(ctx context.Context, cred credential.Credential) (string, error) {
	u := *c.endpoint
	q := u.Query()
	q.Set("uid", cred.Identity)
	q.Set("password", cred.Secret)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", FetchError{Identity: cred.Identity, Reason: "request construction", Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", FetchError{Identity: cred.Identity, Reason: "transport", Cause: redact(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", FetchError{Identity: cred.Identity, Reason: "reading response", Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", FetchError{Identity: cred.Identity, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	tok, err := ParseTokenResponse(body)
	if err != nil {
		return "", FetchError{Identity: cred.Identity, Reason: "response body", Cause: err}
	}

	logExpiry(ctx, cred.Identity, tok)

	return tok, nil
}

// ParseTokenResponse extracts the token from either accepted response shape:
// {"token": "..."} or [{"token": "..."}, ...].
func ParseTokenResponse(body []byte) (string, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("malformed JSON: %w", err)
	}

	var object map[string]any
	switch v := decoded.(type) {
	case []any:
		if len(v) == 0 {
			return "", errors.New("empty response list")
		}
		first, ok := v[0].(map[string]any)
		if !ok {
			return "", errors.New("response list element is not an object")
		}
		object = first
	case map[string]any:
		object = v
	default:
		return "", fmt.Errorf("unexpected response shape %T", decoded)
	}

	raw, present := object["token"]
	if !present {
		return "", errors.New("token field missing")
	}

	tok, ok := raw.(string)
	if !ok || tok == "" {
		return "", errors.New("token field is not a non-empty string")
	}

	return tok, nil
}

// redact strips the query string (which carries the secret) from URL errors
// so they can be logged.
func redact(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}

	redacted := *urlErr
	if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
		u.RawQuery = ""
		redacted.URL = u.String()
	} else {
		redacted.URL = "<redacted>"
	}
	return &redacted
}

// logExpiry records the expiry of JWT-shaped tokens for diagnostics. The
// signature is not verified and the token is never rejected here.
func logExpiry(ctx context.Context, identity, tok string) {
	ev := log.Ctx(ctx).Debug()
	if !ev.Enabled() {
		return
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		ev.Discard()
		return
	}

	ev = ev.Str("uid", identity)
	if exp, ok := claims["exp"].(float64); ok {
		ev = ev.Time("expiry", time.Unix(int64(exp), 0).UTC())
	}
	ev.Msg("token issued")
}
