// Package trust supplies the certificate and per-request signatures the
// print agent uses to authenticate this client.
package trust

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrNotConfigured is returned by a policy whose endpoints are unset
	ErrNotConfigured = errors.New("signing endpoint not configured")

	// ErrNoTrust is returned when every tier of a fallback chain failed
	ErrNoTrust = errors.New("unable to establish trust with print agent")
)

// Policy provides trust credentials. An empty certificate and signature
// mean the client runs unsigned.
type Policy interface {
	Name() string
	Certificate(ctx context.Context) (string, error)
	Sign(ctx context.Context, payload string) (string, error)
}

// IsLoopback reports whether host names the local machine. host may carry
// a port.
func IsLoopback(host string) bool {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")

	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
