package proxyconfig

import (
	"encoding/json"
	"fmt"
)

type backendJSON struct {
	IP       string  `json:"ip"`
	Capacity float64 `json:"capacity"`
	Active   bool    `json:"active"`
}

type entryJSON struct {
	VPS              []backendJSON `json:"vps"`
	Type             string        `json:"type"`
	Subdomain        string        `json:"subdomain,omitempty"`
	Active           bool          `json:"active"`
	CacheEnabled     bool          `json:"cache_enabled"`
	CachePaths       []string      `json:"cache_paths"`
	WhitelistEnabled bool          `json:"whitelist_enabled"`
	BlacklistEnabled bool          `json:"blacklist_enabled"`
}

type configJSON struct {
	Hostname            string      `json:"hostname"`
	SubdomainAdminPanel string      `json:"subdomain_admin_panel"`
	OnHTTPS             bool        `json:"on_https"`
	ModeDeveloper       bool        `json:"mode_developer"`
	LoadBalancer        []entryJSON `json:"load_balancer"`
	RootLoadBalancer    *entryJSON  `json:"root_load_balancer,omitempty"`
}

func toEntryJSON(lb LoadBalancer) entryJSON {
	e := entryJSON{
		VPS:              make([]backendJSON, len(lb.Backends)),
		Type:             string(lb.Scheme),
		Subdomain:        lb.Subdomain,
		Active:           lb.Active,
		CacheEnabled:     lb.CacheEnabled,
		CachePaths:       append([]string{}, lb.CachePaths...),
		WhitelistEnabled: lb.WhitelistEnabled(),
		BlacklistEnabled: lb.BlacklistEnabled(),
	}
	for i, b := range lb.Backends {
		e.VPS[i] = backendJSON{IP: b.Address, Capacity: b.Capacity, Active: b.Active}
	}
	return e
}

func fromEntryJSON(e entryJSON) LoadBalancer {
	lb := LoadBalancer{
		Subdomain:    e.Subdomain,
		Scheme:       Scheme(e.Type),
		Active:       e.Active,
		CacheEnabled: e.CacheEnabled,
	}
	if len(e.CachePaths) > 0 {
		lb.CachePaths = e.CachePaths
	}
	if len(e.VPS) > 0 {
		lb.Backends = make([]Backend, len(e.VPS))
		for i, v := range e.VPS {
			lb.Backends[i] = Backend{Address: v.IP, Capacity: v.Capacity, Active: v.Active}
		}
	}
	// Documents with both flags set predate the exclusive field; the
	// whitelist is the stricter of the two.
	switch {
	case e.WhitelistEnabled:
		lb.Lists = ListWhitelist
	case e.BlacklistEnabled:
		lb.Lists = ListBlacklist
	}
	return lb
}

// MarshalJSON encodes the entry in the proxy's wire format.
func (lb LoadBalancer) MarshalJSON() ([]byte, error) {
	return json.Marshal(toEntryJSON(lb))
}

// UnmarshalJSON decodes the entry from the proxy's wire format.
func (lb *LoadBalancer) UnmarshalJSON(data []byte) error {
	var e entryJSON
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	*lb = fromEntryJSON(e)
	return nil
}

// MarshalJSON encodes the configuration in the proxy's wire format.
func (c Config) MarshalJSON() ([]byte, error) {
	doc := configJSON{
		Hostname:            c.Hostname,
		SubdomainAdminPanel: c.AdminSubdomain,
		OnHTTPS:             c.HTTPS,
		ModeDeveloper:       c.DeveloperMode,
		LoadBalancer:        make([]entryJSON, len(c.LoadBalancers)),
	}
	for i, lb := range c.LoadBalancers {
		doc.LoadBalancer[i] = toEntryJSON(lb)
	}
	if c.Root != nil {
		root := toEntryJSON(*c.Root)
		root.Subdomain = ""
		doc.RootLoadBalancer = &root
	}
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the configuration from the proxy's wire format. An
// empty root_load_balancer object is treated as absent.
func (c *Config) UnmarshalJSON(data []byte) error {
	var doc configJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	cfg := Config{
		Hostname:       doc.Hostname,
		AdminSubdomain: doc.SubdomainAdminPanel,
		HTTPS:          doc.OnHTTPS,
		DeveloperMode:  doc.ModeDeveloper,
	}
	if len(doc.LoadBalancer) > 0 {
		cfg.LoadBalancers = make([]LoadBalancer, len(doc.LoadBalancer))
		for i, e := range doc.LoadBalancer {
			cfg.LoadBalancers[i] = fromEntryJSON(e)
		}
	}
	if doc.RootLoadBalancer != nil {
		root := fromEntryJSON(*doc.RootLoadBalancer)
		root.Subdomain = ""
		if !root.isZero() {
			cfg.Root = &root
		}
	}
	*c = cfg
	return nil
}

// Decode parses a configuration document.
func Decode(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode proxy config: %w", err)
	}
	return cfg, nil
}

// Encode renders cfg as an indented document, the layout the proxy keeps on disk.
func Encode(cfg Config) ([]byte, error) {
	return json.MarshalIndent(cfg, "", "  ")
}
