package proxyconfig

import (
	"errors"
	"fmt"
)

// ErrNoRoot is returned when an edit addresses the root entry of a
// configuration that has none.
var ErrNoRoot = errors.New("root load balancer is not configured")

// IndexError reports an edit that addressed a position outside a sequence.
type IndexError struct {
	What  string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s index %d out of range [0,%d)", e.What, e.Index, e.Len)
}

func checkIndex(what string, i, n int) error {
	if i < 0 || i >= n {
		return &IndexError{What: what, Index: i, Len: n}
	}
	return nil
}

// Every edit below treats its receiver as immutable. Slices that change are
// re-allocated; untouched entries, backend pools and path lists keep sharing
// storage with the input.

func replaceAt[T any](s []T, i int, v T) []T {
	out := make([]T, len(s))
	copy(out, s)
	out[i] = v
	return out
}

func removeAt[T any](s []T, i int) []T {
	out := make([]T, 0, len(s)-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

func appendCopy[T any](s []T, v T) []T {
	out := make([]T, len(s), len(s)+1)
	copy(out, s)
	return append(out, v)
}

// NewLoadBalancer returns the entry created by AddLoadBalancer: active, plain
// http, one backend taking the whole pool.
func NewLoadBalancer() LoadBalancer {
	return LoadBalancer{
		Scheme:   SchemeHTTP,
		Active:   true,
		Backends: []Backend{{Capacity: 1, Active: true}},
	}
}

// Lookup returns the entry addressed by t.
func (c Config) Lookup(t Target) (LoadBalancer, error) {
	if t.root {
		if c.Root == nil {
			return LoadBalancer{}, ErrNoRoot
		}
		return *c.Root, nil
	}
	if err := checkIndex("load balancer", t.index, len(c.LoadBalancers)); err != nil {
		return LoadBalancer{}, err
	}
	return c.LoadBalancers[t.index], nil
}

// withEntry rewrites the entry addressed by t through fn.
func (c Config) withEntry(t Target, fn func(LoadBalancer) (LoadBalancer, error)) (Config, error) {
	lb, err := c.Lookup(t)
	if err != nil {
		return c, err
	}
	lb, err = fn(lb)
	if err != nil {
		return c, err
	}
	out := c
	if t.root {
		lb.Subdomain = ""
		out.Root = &lb
	} else {
		out.LoadBalancers = replaceAt(c.LoadBalancers, t.index, lb)
	}
	return out, nil
}

func (c Config) withBackend(t Target, j int, fn func(Backend) Backend) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		if err := checkIndex("backend", j, len(lb.Backends)); err != nil {
			return lb, err
		}
		lb.Backends = replaceAt(lb.Backends, j, fn(lb.Backends[j]))
		return lb, nil
	})
}

// SetHostname sets the proxy's base domain.
func (c Config) SetHostname(s string) Config {
	c.Hostname = s
	return c
}

// SetAdminSubdomain sets the subdomain the admin panel is served on.
func (c Config) SetAdminSubdomain(s string) Config {
	c.AdminSubdomain = s
	return c
}

func (c Config) SetHTTPS(on bool) Config {
	c.HTTPS = on
	return c
}

func (c Config) SetDeveloperMode(on bool) Config {
	c.DeveloperMode = on
	return c
}

// AddLoadBalancer appends a new entry built by NewLoadBalancer.
func (c Config) AddLoadBalancer() Config {
	c.LoadBalancers = appendCopy(c.LoadBalancers, NewLoadBalancer())
	return c
}

// RemoveLoadBalancer removes the entry at index i.
func (c Config) RemoveLoadBalancer(i int) (Config, error) {
	if err := checkIndex("load balancer", i, len(c.LoadBalancers)); err != nil {
		return c, err
	}
	c.LoadBalancers = removeAt(c.LoadBalancers, i)
	return c, nil
}

// AddRootLoadBalancer gives the configuration a root entry. An existing root
// entry is kept as is.
func (c Config) AddRootLoadBalancer() Config {
	if c.Root == nil {
		root := NewLoadBalancer()
		c.Root = &root
	}
	return c
}

// RemoveRootLoadBalancer drops the root entry, if any.
func (c Config) RemoveRootLoadBalancer() Config {
	c.Root = nil
	return c
}

// SetSubdomain renames the entry at index i. The root entry has no subdomain.
func (c Config) SetSubdomain(i int, s string) (Config, error) {
	return c.withEntry(Entry(i), func(lb LoadBalancer) (LoadBalancer, error) {
		lb.Subdomain = s
		return lb, nil
	})
}

func (c Config) SetScheme(t Target, s Scheme) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		lb.Scheme = s
		return lb, nil
	})
}

func (c Config) SetActive(t Target, on bool) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		lb.Active = on
		return lb, nil
	})
}

func (c Config) SetCacheEnabled(t Target, on bool) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		lb.CacheEnabled = on
		return lb, nil
	})
}

// SetListEnabled switches list k on or off for the addressed entry. Enabling
// one list switches the other off; disabling a list that is not active is a
// no-op.
func (c Config) SetListEnabled(t Target, k ListKind, on bool) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		switch {
		case on:
			lb.Lists = k.Mode()
		case lb.Lists == k.Mode():
			lb.Lists = ListNone
		}
		return lb, nil
	})
}

func (c Config) SetWhitelistEnabled(t Target, on bool) (Config, error) {
	return c.SetListEnabled(t, Whitelist, on)
}

func (c Config) SetBlacklistEnabled(t Target, on bool) (Config, error) {
	return c.SetListEnabled(t, Blacklist, on)
}

// AddBackend appends an active backend with half of the pool's capacity.
func (c Config) AddBackend(t Target) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		lb.Backends = appendCopy(lb.Backends, Backend{Capacity: 0.5, Active: true})
		return lb, nil
	})
}

func (c Config) RemoveBackend(t Target, j int) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		if err := checkIndex("backend", j, len(lb.Backends)); err != nil {
			return lb, err
		}
		lb.Backends = removeAt(lb.Backends, j)
		return lb, nil
	})
}

func (c Config) SetBackendAddress(t Target, j int, addr string) (Config, error) {
	return c.withBackend(t, j, func(b Backend) Backend {
		b.Address = addr
		return b
	})
}

func (c Config) SetBackendCapacity(t Target, j int, capacity float64) (Config, error) {
	return c.withBackend(t, j, func(b Backend) Backend {
		b.Capacity = capacity
		return b
	})
}

func (c Config) SetBackendActive(t Target, j int, on bool) (Config, error) {
	return c.withBackend(t, j, func(b Backend) Backend {
		b.Active = on
		return b
	})
}

// AddCachePath appends the catch-all path "/".
func (c Config) AddCachePath(t Target) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		lb.CachePaths = appendCopy(lb.CachePaths, "/")
		return lb, nil
	})
}

func (c Config) SetCachePath(t Target, k int, path string) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		if err := checkIndex("cache path", k, len(lb.CachePaths)); err != nil {
			return lb, err
		}
		lb.CachePaths = replaceAt(lb.CachePaths, k, path)
		return lb, nil
	})
}

func (c Config) RemoveCachePath(t Target, k int) (Config, error) {
	return c.withEntry(t, func(lb LoadBalancer) (LoadBalancer, error) {
		if err := checkIndex("cache path", k, len(lb.CachePaths)); err != nil {
			return lb, err
		}
		lb.CachePaths = removeAt(lb.CachePaths, k)
		return lb, nil
	})
}

// Root entry shorthands.

func (c Config) AddRootBackend() (Config, error) { return c.AddBackend(RootEntry) }

func (c Config) RemoveRootBackend(j int) (Config, error) { return c.RemoveBackend(RootEntry, j) }

func (c Config) SetRootBackendAddress(j int, addr string) (Config, error) {
	return c.SetBackendAddress(RootEntry, j, addr)
}

func (c Config) SetRootBackendCapacity(j int, capacity float64) (Config, error) {
	return c.SetBackendCapacity(RootEntry, j, capacity)
}

func (c Config) SetRootBackendActive(j int, on bool) (Config, error) {
	return c.SetBackendActive(RootEntry, j, on)
}

func (c Config) AddRootCachePath() (Config, error) { return c.AddCachePath(RootEntry) }

func (c Config) SetRootCachePath(k int, path string) (Config, error) {
	return c.SetCachePath(RootEntry, k, path)
}

func (c Config) RemoveRootCachePath(k int) (Config, error) { return c.RemoveCachePath(RootEntry, k) }
