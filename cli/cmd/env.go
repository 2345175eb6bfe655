package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/shortlist/adapter"
	"github.com/pithecene-io/shortlist/adapter/redis"
	"github.com/pithecene-io/shortlist/adapter/webhook"
	"github.com/pithecene-io/shortlist/cli/config"
	"github.com/pithecene-io/shortlist/cli/render"
	"github.com/pithecene-io/shortlist/log"
	"github.com/pithecene-io/shortlist/metrics"
	"github.com/pithecene-io/shortlist/payload"
	"github.com/pithecene-io/shortlist/remote"
	"github.com/pithecene-io/shortlist/screening"
)

// env is the wiring shared by every service command: config, logging,
// metrics, the service client and the controller built on it.
type env struct {
	cfg      *config.Config
	logger   *log.Logger
	metrics  *metrics.Collector
	client   *remote.Client
	ctrl     *screening.Controller
	renderer *render.Renderer
	server   *http.Server
}

// newEnv resolves config and flags and builds the controller. Errors are
// returned as exit errors carrying exitInvalidInput.
func newEnv(c *cli.Context) (*env, error) {
	cfg, err := config.LoadOptional(c.String("config"))
	if err != nil {
		return nil, invalidInput(err)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return nil, invalidInput(err)
	}

	level := cfg.LogLevel
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	logger := log.NewLogger("shortlist", level)

	serviceURL := cfg.Service.URL
	if c.IsSet("service-url") {
		serviceURL = c.String("service-url")
	}
	if serviceURL == "" {
		return nil, invalidInput(errors.New("service URL is required (--service-url or service.url in config)"))
	}

	timeout := cfg.Service.Timeout.Duration
	if c.IsSet("timeout") {
		timeout = c.Duration("timeout")
	}
	retries := remote.DefaultRetries
	if cfg.Service.Retries != nil {
		retries = *cfg.Service.Retries
	}

	client, err := remote.New(remote.Config{
		BaseURL:     serviceURL,
		Headers:     cfg.Service.Headers,
		Timeout:     timeout,
		Retries:     retries,
		UploadRate:  cfg.Service.UploadRate,
		UploadBurst: cfg.Service.UploadBurst,
		Logger:      logger.Named("remote"),
	})
	if err != nil {
		return nil, invalidInput(err)
	}

	publisher, err := newPublisher(cfg.Adapter)
	if err != nil {
		_ = client.Close()
		return nil, invalidInput(err)
	}

	coll := metrics.NewCollector(client.URL())
	e := &env{
		cfg:      cfg,
		logger:   logger,
		metrics:  coll,
		client:   client,
		renderer: r,
		ctrl: screening.New(client, screening.Options{
			Logger:    logger,
			Metrics:   coll,
			Publisher: publisher,
		}),
	}

	addr := cfg.MetricsAddr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		if err := e.serveMetrics(addr); err != nil {
			e.close()
			return nil, invalidInput(err)
		}
	}
	return e, nil
}

// newPublisher builds the batch notification adapter, or nil when none is
// configured.
func newPublisher(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case config.AdapterRedis:
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
			KeyTTL:  cfg.KeyTTL.Duration,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}

// serveMetrics exposes the collector on addr at /metrics until close.
func (e *env) serveMetrics(addr string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewExporter(e.metrics)); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	e.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := e.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Warn("metrics server stopped", map[string]any{"error": err.Error()})
		}
	}()
	e.logger.Info("serving metrics", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// resolver returns a payload resolver, with an S3 client only when a
// source needs one.
func (e *env) resolver(ctx context.Context, sources []string) (*payload.Resolver, error) {
	if !slices.ContainsFunc(sources, payload.IsS3URL) {
		return payload.NewResolver(nil), nil
	}
	client, err := payload.NewS3Client(ctx, payload.S3Config{
		Region:       e.cfg.Storage.Region,
		Endpoint:     e.cfg.Storage.Endpoint,
		UsePathStyle: e.cfg.Storage.S3PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return payload.NewResolver(client), nil
}

func (e *env) close() {
	if e.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = e.server.Shutdown(ctx)
		cancel()
	}
	_ = e.ctrl.Close()
	_ = e.client.Close()
	_ = e.logger.Sync()
}
