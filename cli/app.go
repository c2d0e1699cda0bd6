package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"xbdm-loader/client"
	"xbdm-loader/config"
	"xbdm-loader/loadbalance"
	"xbdm-loader/logging"
	"xbdm-loader/middleware"
	"xbdm-loader/modules"
	"xbdm-loader/registry"
	"xbdm-loader/transport"
)

// discoverTimeout bounds a registry lookup.
const discoverTimeout = 5 * time.Second

// app is the state shared by every command of one invocation.
type app struct {
	// Global flags
	configPath string
	console    string
	all        bool
	logLevel   string

	loader   *config.Loader
	cfg      *config.Config
	logger   zerolog.Logger
	static   *registry.StaticRegistry
	etcd     *registry.EtcdRegistry // nil unless etcd endpoints are configured
	balancer loadbalance.Balancer
}

// setup loads the configuration and builds the logger and registries.
// Flags override the environment, which overrides the file.
func (a *app) setup(cmd *cobra.Command) error {
	a.loader = config.NewLoader(a.configPath)
	cfg, err := a.loader.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Log.Level = a.logLevel
	}
	if a.console != "" {
		cfg.Console = a.console
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	a.static = registry.NewStaticRegistry(cfg.Consoles)

	if len(cfg.Etcd.Endpoints) > 0 {
		a.etcd, err = registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout, logging.NewZap(cfg.Log.Level))
		if err != nil {
			return fmt.Errorf("failed to connect to etcd: %w", err)
		}
	}

	a.balancer, err = loadbalance.New(cfg.Balancer, cfg.Console)
	return err
}

func (a *app) close() {
	if a.etcd != nil {
		a.etcd.Close()
	}
}

// discover lists the configured consoles followed by the ones published in
// etcd. A configured console shadows a published one of the same name.
func (a *app) discover(ctx context.Context) ([]registry.Console, error) {
	consoles, _ := a.static.Discover(ctx)
	if a.etcd == nil {
		return consoles, nil
	}

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	published, err := a.etcd.Discover(ctx)
	if err != nil {
		if len(consoles) == 0 {
			return nil, fmt.Errorf("console discovery failed: %w", err)
		}
		a.logger.Warn().Err(err).Msg("etcd discovery failed, using configured consoles only")
		return consoles, nil
	}

	known := make(map[string]bool, len(consoles))
	for _, c := range consoles {
		known[strings.ToLower(c.Name)] = true
	}
	for _, c := range published {
		if !known[strings.ToLower(c.Name)] {
			consoles = append(consoles, c)
		}
	}
	return consoles, nil
}

// targets resolves the consoles a command runs against. key identifies the
// work for balancers with affinity.
func (a *app) targets(ctx context.Context, key string) ([]registry.Console, error) {
	consoles, err := a.discover(ctx)

	if named := a.cfg.Console; named != "" && !a.all {
		for _, c := range consoles {
			if strings.EqualFold(c.Name, named) || strings.EqualFold(c.Addr, named) {
				return []registry.Console{c}, nil
			}
		}
		// Not a known console: treat it as an address
		return []registry.Console{{Name: named, Addr: named}}, nil
	}

	if err != nil {
		return nil, err
	}
	if len(consoles) == 0 {
		return nil, fmt.Errorf("no console configured: pass --console or list consoles in %s", a.loader.Path())
	}
	if a.all {
		return consoles, nil
	}

	picked, err := a.balancer.Pick(consoles, key)
	if err != nil {
		return nil, err
	}
	a.logger.Debug().Str("balancer", a.balancer.Name()).Str("console", picked.Name).Msg("console picked")
	return []registry.Console{*picked}, nil
}

// target is everything needed to work with one console.
type target struct {
	console registry.Console
	client  *client.Client
	modules *modules.Manager
	logger  zerolog.Logger
}

// connect builds the call stack for one console:
//
//	logging → timeout → retry → rate limit → orchestrator → pool → dialer
func (a *app) connect(console registry.Console) *target {
	logger := a.logger.With().Str("console", console.Name).Logger()

	dialer := transport.NewDialer(console.Addr, a.cfg.Timeouts.Step)
	dialer.Logger = logger
	pool := transport.NewPool(dialer, a.cfg.Pool.MaxSessions)

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger),
		middleware.TimeOutMiddleware(a.cfg.Timeouts.Call),
	}
	if retries := a.cfg.Retry.MaxAttempts - 1; retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(retries, a.cfg.Retry.InitialBackoff, a.cfg.Retry.MaxBackoff, logger))
	}
	if a.cfg.Rate.PerSecond > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(a.cfg.Rate.PerSecond, a.cfg.Rate.Burst))
	}

	c := client.New(pool, client.WithMiddleware(mws...), client.WithLogger(logger))
	return &target{
		console: console,
		client:  c,
		modules: modules.NewManager(pool, c, logger),
		logger:  logger,
	}
}

// forEach runs fn against every console. Several consoles run concurrently,
// each with its own sessions; their output is printed in console order once
// all are done.
func (a *app) forEach(ctx context.Context, consoles []registry.Console, out io.Writer, fn func(ctx context.Context, t *target, out io.Writer) error) error {
	if len(consoles) == 1 {
		return fn(ctx, a.connect(consoles[0]), out)
	}

	outs := make([]bytes.Buffer, len(consoles))
	errs := make([]error, len(consoles))
	var wg sync.WaitGroup
	for i, c := range consoles {
		i, c := i, c
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = fn(ctx, a.connect(c), &outs[i])
		}()
	}
	wg.Wait()

	for i, c := range consoles {
		if outs[i].Len() > 0 {
			fmt.Fprintf(out, "[%s]\n", c.Name)
			out.Write(outs[i].Bytes())
		}
		if errs[i] != nil {
			errs[i] = fmt.Errorf("%s: %w", c.Name, errs[i])
		}
	}
	return errors.Join(errs...)
}

// announce reports the console name, which also proves the console answers.
func (t *target) announce(ctx context.Context) error {
	name, err := t.modules.ConsoleName(ctx)
	if err != nil {
		return err
	}
	t.logger.Info().Msgf("Successfully connected to console: %s", name)
	return nil
}
