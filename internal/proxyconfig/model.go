// Package proxyconfig holds the routing configuration of the proxy: the
// load balancer entries, their backend pools and per-entry policy, together
// with the edit operations and the validator that guard it.
package proxyconfig

import "strconv"

// Scheme is the protocol a load balancer entry is served on.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

// Valid reports whether s is one of the supported schemes.
func (s Scheme) Valid() bool {
	return s == SchemeHTTP || s == SchemeHTTPS
}

// ListMode selects which IP list, if any, guards an entry. Whitelist and
// blacklist are mutually exclusive so they share one field.
type ListMode int

const (
	ListNone ListMode = iota
	ListWhitelist
	ListBlacklist
)

func (m ListMode) String() string {
	switch m {
	case ListWhitelist:
		return "whitelist"
	case ListBlacklist:
		return "blacklist"
	default:
		return "none"
	}
}

// ListKind names one of the two IP lists.
type ListKind int

const (
	Whitelist ListKind = iota
	Blacklist
)

func (k ListKind) String() string {
	if k == Blacklist {
		return "blacklist"
	}
	return "whitelist"
}

// Complement returns the other list kind.
func (k ListKind) Complement() ListKind {
	if k == Whitelist {
		return Blacklist
	}
	return Whitelist
}

// Mode returns the ListMode that enables k.
func (k ListKind) Mode() ListMode {
	if k == Blacklist {
		return ListBlacklist
	}
	return ListWhitelist
}

// ParseListKind parses "whitelist" or "blacklist".
func ParseListKind(s string) (ListKind, bool) {
	switch s {
	case "whitelist":
		return Whitelist, true
	case "blacklist":
		return Blacklist, true
	}
	return Whitelist, false
}

// Backend is one upstream server ("VPS") and its share of the pool's traffic.
type Backend struct {
	Address  string
	Capacity float64
	Active   bool
}

// LoadBalancer routes one subdomain (or the bare domain, for the root entry)
// to a pool of backends.
type LoadBalancer struct {
	Subdomain    string
	Scheme       Scheme
	Active       bool
	Backends     []Backend
	CacheEnabled bool
	CachePaths   []string
	Lists        ListMode
}

// WhitelistEnabled reports whether the entry is guarded by its whitelist.
func (lb LoadBalancer) WhitelistEnabled() bool { return lb.Lists == ListWhitelist }

// BlacklistEnabled reports whether the entry is guarded by its blacklist.
func (lb LoadBalancer) BlacklistEnabled() bool { return lb.Lists == ListBlacklist }

func (lb LoadBalancer) isZero() bool {
	return lb.Subdomain == "" && lb.Scheme == "" && !lb.Active && len(lb.Backends) == 0 &&
		!lb.CacheEnabled && len(lb.CachePaths) == 0 && lb.Lists == ListNone
}

// Config is the whole proxy configuration document.
type Config struct {
	Hostname       string
	AdminSubdomain string
	HTTPS          bool
	DeveloperMode  bool
	LoadBalancers  []LoadBalancer
	Root           *LoadBalancer
}

// IndexOf returns the index of the entry serving subdomain, or -1.
func (c Config) IndexOf(subdomain string) int {
	for i, lb := range c.LoadBalancers {
		if lb.Subdomain == subdomain {
			return i
		}
	}
	return -1
}

// Target addresses either an indexed load balancer entry or the root entry.
type Target struct {
	root  bool
	index int
}

// RootEntry addresses the optional root load balancer.
var RootEntry = Target{root: true}

// Entry addresses the load balancer at index i.
func Entry(i int) Target { return Target{index: i} }

// IsRoot reports whether t addresses the root entry.
func (t Target) IsRoot() bool { return t.root }

// Index returns the entry index; it is meaningless for the root target.
func (t Target) Index() int { return t.index }

func (t Target) String() string {
	if t.root {
		return "Root Load Balancer"
	}
	return "Load balancer " + strconv.Itoa(t.index+1)
}
