// Package relay maintains the persistent relay connection: it dials the
// relay WebSocket, authenticates, reconnects with bounded exponential
// backoff, and feeds inbound requests and events to their handlers.
package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the access token sent in the auth message. An empty
// token with a nil error means no credentials are available yet.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, typically from configuration.
type StaticToken string

// Token returns the token itself.
func (s StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(s)), nil
}

// FileTokenSource reads the token saved by the login flow from a file on
// every call, so a token refreshed on disk is picked up on reconnect.
type FileTokenSource struct {
	Path string
}

// Token returns the trimmed file contents. A missing file means no token.
func (f *FileTokenSource) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// EntraTokenSource obtains OAuth2 tokens via Azure Identity, for relays
// that accept Entra ID bearer tokens.
type EntraTokenSource struct {
	cred  azcore.TokenCredential
	scope string
}

// NewEntraTokenSource creates a token source using DefaultAzureCredential.
func NewEntraTokenSource(scope string) (*EntraTokenSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure credential: %w", err)
	}
	return &EntraTokenSource{cred: cred, scope: scope}, nil
}

// NewEntraTokenSourceWithCredential creates a token source with a specific
// TokenCredential. This is primarily useful for testing.
func NewEntraTokenSourceWithCredential(cred azcore.TokenCredential, scope string) *EntraTokenSource {
	return &EntraTokenSource{cred: cred, scope: scope}
}

// Token obtains an OAuth2 token for the configured scope.
func (p *EntraTokenSource) Token(ctx context.Context) (string, error) {
	tk, err := p.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{p.scope},
	})
	if err != nil {
		return "", fmt.Errorf("acquire Entra token: %w", err)
	}
	return tk.Token, nil
}

// TokenExpiry reports the exp claim of a JWT access token without
// verifying it. ok is false for opaque tokens or tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

var tokenParam = regexp.MustCompile(`(?i)((?:access_)?token=)[^&"\s]+`)

// sanitizeErr strips token query parameters from WebSocket dial errors
// to avoid leaking credentials in log output.
func sanitizeErr(err error) error {
	s := err.Error()
	if !tokenParam.MatchString(s) {
		return err
	}
	return errors.New(tokenParam.ReplaceAllString(s, "${1}REDACTED"))
}
