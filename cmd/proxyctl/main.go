package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mixproxy/proxyadmin/internal/admin"
	"github.com/mixproxy/proxyadmin/internal/client"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"go.uber.org/zap"
)

const usage = `Usage: proxyctl [-server URL] <command> [args]

Commands:
  get                                      print the current config
  validate <file>                          validate a config document
  apply <file>                             validate and store a config document
  add-backend <scope> <address> <capacity> append a VPS to a load balancer
  remove-backend <scope> <n>               remove VPS n (1-based)
  set-capacity <scope> <n> <capacity>      change the capacity of VPS n
  whitelist|blacklist <scope> on|off       toggle a list
  reload                                   re-apply the stored config

A scope is a load balancer subdomain, or @ for the root domain.
`

func main() {
	server := flag.String("server", envOr("PROXYADMIN_URL", "http://localhost:8081"), "Admin API base URL")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall request timeout")
	verbose := flag.Bool("v", false, "Log requests and retries")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	level := "error"
	if *verbose {
		level = "debug"
	}
	if logger, err := logging.New(logging.Options{Level: level}); err == nil {
		logging.SetGlobal(logger)
		defer logger.Sync()
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.New(*server)
	cli := &cli{
		client:  c,
		service: service.New(c, c, c, service.Options{Logger: logging.Named("proxyctl")}),
		out:     os.Stdout,
	}
	if err := cli.run(ctx, flag.Args()); err != nil {
		var verr *proxyconfig.ValidationError
		if errors.As(err, &verr) {
			for _, msg := range verr.Violations.Messages() {
				fmt.Fprintln(os.Stderr, msg)
			}
		} else {
			fmt.Fprintf(os.Stderr, "proxyctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

type remote interface {
	Validate(ctx context.Context, cfg proxyconfig.Config) (admin.ValidateResponse, error)
	Reload(ctx context.Context) (admin.ReloadResult, error)
}

type cli struct {
	client  remote
	service *service.Service
	out     io.Writer
}

var errUsage = errors.New("invalid arguments, run proxyctl -h for usage")

func (c *cli) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "get":
		cfg, err := c.service.Load(ctx)
		if err != nil {
			return err
		}
		return c.print(cfg)

	case "validate":
		if len(args) != 1 {
			return errUsage
		}
		cfg, err := readDocument(args[0])
		if err != nil {
			return err
		}
		res, err := c.client.Validate(ctx, cfg)
		if err != nil {
			return err
		}
		if !res.Valid {
			return res.Violations.Err()
		}
		fmt.Fprintln(c.out, "Configuration is valid")
		return nil

	case "apply":
		if len(args) != 1 {
			return errUsage
		}
		cfg, err := readDocument(args[0])
		if err != nil {
			return err
		}
		if err := c.service.Save(ctx, cfg); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Configuration updated")
		return nil

	case "add-backend":
		if len(args) != 3 {
			return errUsage
		}
		capacity, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("capacity: %w", err)
		}
		return c.edit(ctx, args[0], func(cfg proxyconfig.Config, t proxyconfig.Target) ([]proxyconfig.Edit, error) {
			lb, err := cfg.Lookup(t)
			if err != nil {
				return nil, err
			}
			n := len(lb.Backends)
			return []proxyconfig.Edit{
				proxyconfig.AddBackend{Target: t},
				proxyconfig.SetBackendAddress{Target: t, Index: n, Value: args[1]},
				proxyconfig.SetBackendCapacity{Target: t, Index: n, Value: capacity},
			}, nil
		})

	case "remove-backend":
		if len(args) != 2 {
			return errUsage
		}
		n, err := backendIndex(args[1])
		if err != nil {
			return err
		}
		return c.edit(ctx, args[0], func(_ proxyconfig.Config, t proxyconfig.Target) ([]proxyconfig.Edit, error) {
			return []proxyconfig.Edit{proxyconfig.RemoveBackend{Target: t, Index: n}}, nil
		})

	case "set-capacity":
		if len(args) != 3 {
			return errUsage
		}
		n, err := backendIndex(args[1])
		if err != nil {
			return err
		}
		capacity, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return fmt.Errorf("capacity: %w", err)
		}
		return c.edit(ctx, args[0], func(_ proxyconfig.Config, t proxyconfig.Target) ([]proxyconfig.Edit, error) {
			return []proxyconfig.Edit{proxyconfig.SetBackendCapacity{Target: t, Index: n, Value: capacity}}, nil
		})

	case "whitelist", "blacklist":
		if len(args) != 2 {
			return errUsage
		}
		kind, _ := proxyconfig.ParseListKind(cmd)
		var enabled bool
		switch args[1] {
		case "on":
			enabled = true
		case "off":
		default:
			return errUsage
		}
		scope := args[0]
		if scope == admin.RootScope {
			scope = ""
		}
		if err := c.service.SetListEnabled(ctx, kind, scope, enabled); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s %s for %s\n", kind, args[1], args[0])
		return nil

	case "reload":
		res, err := c.client.Reload(ctx)
		if err != nil {
			return err
		}
		if !res.Success {
			if len(res.Violations) > 0 {
				for _, msg := range res.Violations {
					fmt.Fprintln(c.out, msg)
				}
			}
			return fmt.Errorf("reload failed: %s", res.Error)
		}
		fmt.Fprintf(c.out, "Reloaded revision %s\n", res.Revision)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// edit loads the config, resolves scope and saves the result of the edits
// build returns. Nothing is stored if an edit fails or the result is invalid.
func (c *cli) edit(ctx context.Context, scope string, build func(proxyconfig.Config, proxyconfig.Target) ([]proxyconfig.Edit, error)) error {
	cfg, err := c.service.Load(ctx)
	if err != nil {
		return err
	}
	t, err := resolveScope(cfg, scope)
	if err != nil {
		return err
	}
	edits, err := build(cfg, t)
	if err != nil {
		return err
	}
	next, err := proxyconfig.Apply(cfg, edits...)
	if err != nil {
		return err
	}
	if err := c.service.Save(ctx, next); err != nil {
		return err
	}
	logging.Debug("config edited", zap.String("scope", scope), zap.Int("edits", len(edits)))
	fmt.Fprintln(c.out, "Configuration updated")
	return nil
}

func resolveScope(cfg proxyconfig.Config, scope string) (proxyconfig.Target, error) {
	if scope == admin.RootScope {
		if cfg.Root == nil {
			return proxyconfig.RootEntry, proxyconfig.ErrNoRoot
		}
		return proxyconfig.RootEntry, nil
	}
	i := cfg.IndexOf(scope)
	if i < 0 {
		return proxyconfig.Target{}, fmt.Errorf("no load balancer for subdomain %q", scope)
	}
	return proxyconfig.Entry(i), nil
}

func backendIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("VPS number must be a positive integer, got %q", s)
	}
	return n - 1, nil
}

func readDocument(path string) (proxyconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return proxyconfig.Config{}, err
	}
	return proxyconfig.Decode(data)
}

func (c *cli) print(cfg proxyconfig.Config) error {
	data, err := proxyconfig.Encode(cfg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", data)
	return err
}
