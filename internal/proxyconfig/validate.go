package proxyconfig

import (
	"fmt"
	"math"
	"net"
	"net/url"
	"strings"
)

// CapacityTolerance is the absolute slack allowed when capacity shares are
// summed.
const CapacityTolerance = 0.001

// ViolationKind classifies a validation finding.
type ViolationKind string

const (
	KindHostnameRequired       ViolationKind = "hostname_required"
	KindAdminSubdomainRequired ViolationKind = "admin_subdomain_required"
	KindDuplicateSubdomain     ViolationKind = "duplicate_subdomain"
	KindSubdomainRequired      ViolationKind = "subdomain_required"
	KindInvalidScheme          ViolationKind = "invalid_scheme"
	KindAddressRequired        ViolationKind = "address_required"
	KindInvalidAddress         ViolationKind = "invalid_address"
	KindCapacityRange          ViolationKind = "capacity_range"
	KindTotalCapacity          ViolationKind = "total_capacity"
	KindNoActiveBackend        ViolationKind = "no_active_backend"
	KindActiveCapacity         ViolationKind = "active_capacity"
	KindNoCachePaths           ViolationKind = "no_cache_paths"
	KindCachePathRequired      ViolationKind = "cache_path_required"
	KindCachePathFormat        ViolationKind = "cache_path_format"
)

// Location points at the part of the configuration a violation concerns.
// Backend and Path are -1 when the violation is about the entry as a whole;
// Entry is -1 for document-level violations.
type Location struct {
	Root    bool `json:"root,omitempty"`
	Entry   int  `json:"entry"`
	Backend int  `json:"backend"`
	Path    int  `json:"path"`
}

func (l Location) String() string {
	var b strings.Builder
	switch {
	case l.Root:
		b.WriteString("Root Load Balancer")
	case l.Entry >= 0:
		fmt.Fprintf(&b, "Load balancer %d", l.Entry+1)
	default:
		return ""
	}
	if l.Backend >= 0 {
		fmt.Fprintf(&b, ", VPS %d", l.Backend+1)
	}
	if l.Path >= 0 {
		fmt.Fprintf(&b, ", cache path %d", l.Path+1)
	}
	return b.String()
}

// Violation is one reason a configuration cannot be applied.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Location Location      `json:"location"`
	Message  string        `json:"message"`
}

// String renders the violation the way it is shown to an operator.
func (v Violation) String() string {
	if loc := v.Location.String(); loc != "" {
		return loc + ": " + v.Message
	}
	return v.Message
}

// Violations is the ordered result of a validation run.
type Violations []Violation

// Messages returns the operator-facing line of every violation.
func (vs Violations) Messages() []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}

// Err returns a *ValidationError carrying vs, or nil when vs is empty.
func (vs Violations) Err() error {
	if len(vs) == 0 {
		return nil
	}
	return &ValidationError{Violations: vs}
}

// ValidationError rejects a configuration, listing every problem found.
type ValidationError struct {
	Violations Violations
}

func (e *ValidationError) Error() string {
	msgs := e.Violations.Messages()
	if len(msgs) == 1 {
		return "invalid proxy config: " + msgs[0]
	}
	return fmt.Sprintf("invalid proxy config (%d problems): %s", len(msgs), strings.Join(msgs, "; "))
}

// Validator checks configurations. The zero value applies the default rules.
type Validator struct {
	// StrictTotalCapacity additionally requires the capacities of all
	// backends, active or not, to sum to 1.
	StrictTotalCapacity bool
}

// Validate checks cfg with the default rules.
func Validate(cfg Config) Violations {
	return Validator{}.Validate(cfg)
}

// Validate returns every violation in cfg, in document order. It never
// fails and has no side effects.
func (v Validator) Validate(cfg Config) Violations {
	r := &report{}

	if strings.TrimSpace(cfg.Hostname) == "" {
		r.add(KindHostnameRequired, docLocation(), "Hostname is required")
	}
	if strings.TrimSpace(cfg.AdminSubdomain) == "" {
		r.add(KindAdminSubdomainRequired, docLocation(), "Admin panel subdomain is required")
	}

	seen := make(map[string]bool, len(cfg.LoadBalancers))
	for i, lb := range cfg.LoadBalancers {
		loc := entryLocation(i)
		sub := strings.TrimSpace(lb.Subdomain)
		if sub != "" {
			if seen[sub] {
				r.add(KindDuplicateSubdomain, loc, fmt.Sprintf("Duplicate subdomain %q", sub))
			}
			seen[sub] = true
		}
		if sub == "" {
			r.add(KindSubdomainRequired, loc, "Subdomain is required")
		}
		v.checkEntry(r, loc, lb)
	}

	if cfg.Root != nil {
		loc := Location{Root: true, Entry: -1, Backend: -1, Path: -1}
		v.checkEntry(r, loc, *cfg.Root)
	}

	return r.violations
}

func (v Validator) checkEntry(r *report, loc Location, lb LoadBalancer) {
	if !lb.Scheme.Valid() {
		r.add(KindInvalidScheme, loc, `Type must be "http" or "https"`)
	}

	var total, active float64
	hasActive := false
	for j, b := range lb.Backends {
		bloc := loc
		bloc.Backend = j
		if strings.TrimSpace(b.Address) == "" {
			r.add(KindAddressRequired, bloc, "IP address is required")
		} else if !validAddress(b.Address) {
			r.add(KindInvalidAddress, bloc, "Invalid IP/URL format")
		}
		if math.IsNaN(b.Capacity) || b.Capacity < 0 || b.Capacity > 1 {
			r.add(KindCapacityRange, bloc, "Capacity must be between 0 and 1")
		}
		total += b.Capacity
		if b.Active {
			hasActive = true
			active += b.Capacity
		}
	}

	if v.StrictTotalCapacity && !sumsToOne(total) {
		r.add(KindTotalCapacity, loc, fmt.Sprintf("Sum of VPS capacities must be 1 (currently %.3f)", total))
	}
	if !hasActive {
		r.add(KindNoActiveBackend, loc, "At least one VPS must be active")
	} else if !sumsToOne(active) {
		r.add(KindActiveCapacity, loc, fmt.Sprintf("Sum of active VPS capacities must be 1 (currently %.3f)", active))
	}

	if lb.CacheEnabled && len(lb.CachePaths) == 0 {
		r.add(KindNoCachePaths, loc, "No cache paths specified")
	}
	if lb.CacheEnabled {
		for k, p := range lb.CachePaths {
			ploc := loc
			ploc.Path = k
			switch {
			case strings.TrimSpace(p) == "":
				r.add(KindCachePathRequired, ploc, "Cache path is required")
			case !strings.HasPrefix(p, "/"):
				r.add(KindCachePathFormat, ploc, `Cache path must start with "/"`)
			}
		}
	}
}

func sumsToOne(sum float64) bool {
	return math.Abs(sum-1) <= CapacityTolerance
}

// validAddress accepts a bare IP, an IP with port, or an absolute URL with a
// host.
func validAddress(addr string) bool {
	if net.ParseIP(addr) != nil {
		return true
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && net.ParseIP(host) != nil {
		return true
	}
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

type report struct {
	violations Violations
}

func (r *report) add(kind ViolationKind, loc Location, msg string) {
	r.violations = append(r.violations, Violation{Kind: kind, Location: loc, Message: msg})
}

func docLocation() Location {
	return Location{Entry: -1, Backend: -1, Path: -1}
}

func entryLocation(i int) Location {
	return Location{Entry: i, Backend: -1, Path: -1}
}
