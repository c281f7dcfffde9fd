package relay

import (
	"fmt"
	"net/url"
	"strings"
)

// ClientType is sent as the clientType query parameter so the relay can
// tell sync clients apart from other peers.
const ClientType = "sync"

// BuildURL normalizes a configured relay address into the WebSocket URL
// the manager dials.
//
// Accepted input formats:
//   - "wss://relay.example.com/ws" or "ws://..." → used as-is
//   - "https://relay.example.com/ws" → scheme becomes wss
//   - "http://localhost:8080/ws" → scheme becomes ws
//   - "relay.example.com/ws" → wss:// is prepended
//
// The clientType query parameter is set; other query parameters are kept.
// Empty input is an error (callers treat a missing URL as "not configured"
// before calling).
func BuildURL(raw, clientType string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty relay URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse relay URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay URL scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay URL %q has no host", raw)
	}
	q := u.Query()
	q.Set("clientType", clientType)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
