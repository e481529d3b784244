package proxyconfig

// Edit is one discrete change to a configuration. The set of edits is closed:
// each field that can be changed has its own command type.
type Edit interface {
	apply(Config) (Config, error)
}

// Apply runs edits in order. If any of them fails, cfg is returned unchanged
// together with that edit's error.
func Apply(cfg Config, edits ...Edit) (Config, error) {
	out := cfg
	for _, e := range edits {
		next, err := e.apply(out)
		if err != nil {
			return cfg, err
		}
		out = next
	}
	return out, nil
}

type (
	SetHostname       struct{ Value string }
	SetAdminSubdomain struct{ Value string }
	SetHTTPS          struct{ Enabled bool }
	SetDeveloperMode  struct{ Enabled bool }

	AddLoadBalancer        struct{}
	RemoveLoadBalancer     struct{ Index int }
	AddRootLoadBalancer    struct{}
	RemoveRootLoadBalancer struct{}

	SetSubdomain struct {
		Index int
		Value string
	}
	SetScheme struct {
		Target Target
		Value  Scheme
	}
	SetActive struct {
		Target  Target
		Enabled bool
	}
	SetCacheEnabled struct {
		Target  Target
		Enabled bool
	}
	SetListEnabled struct {
		Target  Target
		Kind    ListKind
		Enabled bool
	}

	AddBackend    struct{ Target Target }
	RemoveBackend struct {
		Target Target
		Index  int
	}
	SetBackendAddress struct {
		Target Target
		Index  int
		Value  string
	}
	SetBackendCapacity struct {
		Target Target
		Index  int
		Value  float64
	}
	SetBackendActive struct {
		Target  Target
		Index   int
		Enabled bool
	}

	AddCachePath    struct{ Target Target }
	RemoveCachePath struct {
		Target Target
		Index  int
	}
	SetCachePath struct {
		Target Target
		Index  int
		Value  string
	}
)

func (e SetHostname) apply(c Config) (Config, error) { return c.SetHostname(e.Value), nil }
func (e SetAdminSubdomain) apply(c Config) (Config, error) { return c.SetAdminSubdomain(e.Value), nil }
func (e SetHTTPS) apply(c Config) (Config, error) { return c.SetHTTPS(e.Enabled), nil }
func (e SetDeveloperMode) apply(c Config) (Config, error) { return c.SetDeveloperMode(e.Enabled), nil }

func (AddLoadBalancer) apply(c Config) (Config, error) { return c.AddLoadBalancer(), nil }
func (e RemoveLoadBalancer) apply(c Config) (Config, error) { return c.RemoveLoadBalancer(e.Index) }
func (AddRootLoadBalancer) apply(c Config) (Config, error) { return c.AddRootLoadBalancer(), nil }
func (RemoveRootLoadBalancer) apply(c Config) (Config, error) { return c.RemoveRootLoadBalancer(), nil }
func (e SetSubdomain) apply(c Config) (Config, error) { return c.SetSubdomain(e.Index, e.Value) }
func (e SetScheme) apply(c Config) (Config, error) { return c.SetScheme(e.Target, e.Value) }
func (e SetActive) apply(c Config) (Config, error) { return c.SetActive(e.Target, e.Enabled) }
func (e SetCacheEnabled) apply(c Config) (Config, error) { return c.SetCacheEnabled(e.Target, e.Enabled) }
func (e SetListEnabled) apply(c Config) (Config, error) { return c.SetListEnabled(e.Target, e.Kind, e.Enabled) }
func (e AddBackend) apply(c Config) (Config, error) { return c.AddBackend(e.Target) }
func (e RemoveBackend) apply(c Config) (Config, error) { return c.RemoveBackend(e.Target, e.Index) }
func (e SetBackendAddress) apply(c Config) (Config, error) { return c.SetBackendAddress(e.Target, e.Index, e.Value) }
func (e SetBackendCapacity) apply(c Config) (Config, error) { return c.SetBackendCapacity(e.Target, e.Index, e.Value) }
func (e SetBackendActive) apply(c Config) (Config, error) { return c.SetBackendActive(e.Target, e.Index, e.Enabled) }
func (e AddCachePath) apply(c Config) (Config, error) { return c.AddCachePath(e.Target) }
func (e RemoveCachePath) apply(c Config) (Config, error) { return c.RemoveCachePath(e.Target, e.Index) }
func (e SetCachePath) apply(c Config) (Config, error) { return c.SetCachePath(e.Target, e.Index, e.Value) }
