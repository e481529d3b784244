// Package lists manages the whitelist and blacklist state shared with the
// proxy runtime: per-scope enabled flags, per-scope IP entries and the global
// blacklist. A scope is a load balancer subdomain; the empty scope is the
// root domain.
package lists

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
)

// Reason records why an IP was listed. The field names match what the proxy
// runtime reads.
type Reason struct {
	Content string
	Time    time.Time
	Date    string
}

// NewReason stamps content with the current time.
func NewReason(content string, now time.Time) Reason {
	return Reason{Content: content, Time: now, Date: now.Format("2006-01-02")}
}

// Store is the list state backend.
type Store interface {
	SetListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string, enabled bool) error
	ListEnabled(ctx context.Context, kind proxyconfig.ListKind, scope string) (bool, error)
	EnabledScopes(ctx context.Context, kind proxyconfig.ListKind) ([]string, error)

	// AddIP lists ip under scope. A ttl of zero keeps the entry until removed.
	AddIP(ctx context.Context, kind proxyconfig.ListKind, scope, ip string, reason Reason, ttl time.Duration) error
	RemoveIP(ctx context.Context, kind proxyconfig.ListKind, scope, ip string) error
	IPs(ctx context.Context, kind proxyconfig.ListKind, scope string) (map[string]Reason, error)

	// RenameScope moves the flag and every entry of scope to newScope.
	RenameScope(ctx context.Context, kind proxyconfig.ListKind, scope, newScope string) error
	// ClearScope removes every entry of scope and disables its list.
	ClearScope(ctx context.Context, kind proxyconfig.ListKind, scope string) error

	AddGlobalIP(ctx context.Context, ip string, reason Reason, ttl time.Duration) error
	RemoveGlobalIP(ctx context.Context, ip string) error
	GlobalIPs(ctx context.Context) (map[string]Reason, error)
}

// ErrUnknownKind is returned for a ListKind outside Whitelist and Blacklist.
var ErrUnknownKind = errors.New("unknown list kind")

const globalPrefix = "global:"

func ipKey(scope, ip string) string {
	return "[" + scope + "]" + ip
}

func checkKind(kind proxyconfig.ListKind) error {
	switch kind {
	case proxyconfig.Whitelist, proxyconfig.Blacklist:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}
