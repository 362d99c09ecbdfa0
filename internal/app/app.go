package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang/geo/r2"

	"github.com/normalocity/pedestrians"
	servernet "github.com/normalocity/pedestrians/internal/net"
	"github.com/normalocity/pedestrians/internal/observability"
	"github.com/normalocity/pedestrians/internal/scenario"
	"github.com/normalocity/pedestrians/internal/telemetry"
	"github.com/normalocity/pedestrians/logging"
	loggingsinks "github.com/normalocity/pedestrians/logging/sinks"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Logger        telemetry.Logger
	Observability observability.Config
	Addr          string
	Hub           pedestrians.HubConfig
	Logging       logging.Config
	LogLevel      string
	ScenarioFile  string
	// AccessLog receives combined-format HTTP request logs when set.
	AccessLog io.Writer
	// OnListen is called with the bound address once the server accepts
	// connections.
	OnListen func(net.Addr)
}

func DefaultConfig() Config {
	return Config{
		Addr:     ":8080",
		Hub:      pedestrians.DefaultHubConfig(),
		Logging:  logging.DefaultConfig(),
		LogLevel: "info",
	}
}

// ApplyEnv overrides cfg from environment variables read through lookup.
// Invalid values are reported to logger and leave the field untouched.
func ApplyEnv(cfg Config, lookup func(string) (string, bool), logger telemetry.Logger) Config {
	if logger == nil {
		logger = telemetry.LoggerFunc(nil)
	}
	get := func(key string) (string, bool) {
		raw, ok := lookup(key)
		return raw, ok && raw != ""
	}
	positiveInt := func(key string, dst *int) {
		raw, ok := get(key)
		if !ok {
			return
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			logger.Printf("invalid %s=%q: expected a positive integer", key, raw)
			return
		}
		*dst = value
	}
	positiveFloat := func(key string, dst *float64) bool {
		raw, ok := get(key)
		if !ok {
			return false
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value <= 0 {
			logger.Printf("invalid %s=%q: expected a positive number", key, raw)
			return false
		}
		*dst = value
		return true
	}
	boolean := func(key string, dst *bool) {
		raw, ok := get(key)
		if !ok {
			return
		}
		value, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Printf("invalid %s=%q: %v", key, raw, err)
			return
		}
		*dst = value
	}

	if raw, ok := get("PEDESTRIANS_ADDR"); ok {
		cfg.Addr = raw
	}
	positiveInt("TICK_RATE", &cfg.Hub.Loop.TickRate)
	positiveInt("CATCHUP_MAX_TICKS", &cfg.Hub.Loop.CatchupMaxTicks)

	bounds := cfg.Hub.Crowd.Bounds
	width, height := bounds.X.Length(), bounds.Y.Length()
	if bounds.IsEmpty() {
		width, height = 0, 0
	}
	widthSet := positiveFloat("WORLD_WIDTH", &width)
	heightSet := positiveFloat("WORLD_HEIGHT", &height)
	if (widthSet || heightSet) && width > 0 && height > 0 {
		cfg.Hub.Crowd.Bounds = r2.RectFromPoints(r2.Point{X: 0, Y: 0}, r2.Point{X: width, Y: height})
	}

	if raw, ok := get("SCENARIO_FILE"); ok {
		cfg.ScenarioFile = raw
	}
	if raw, ok := get("LOG_LEVEL"); ok {
		if severity, err := logging.ParseSeverity(raw); err == nil {
			cfg.LogLevel = raw
			cfg.Logging.MinimumSeverity = severity
		} else {
			logger.Printf("invalid LOG_LEVEL=%q: %v", raw, err)
		}
	}
	if raw, ok := get("LOG_JSON_PATH"); ok {
		cfg.Logging.JSON.FilePath = raw
		cfg.Logging.EnableSink(logging.SinkJSON)
	}
	boolean("LOG_COLOR", &cfg.Logging.Console.UseColor)
	boolean("ENABLE_PPROF", &cfg.Observability.EnablePprof)

	accessLog := cfg.AccessLog != nil
	boolean("ACCESS_LOG", &accessLog)
	if accessLog && cfg.AccessLog == nil {
		cfg.AccessLog = os.Stderr
	} else if !accessLog {
		cfg.AccessLog = nil
	}
	return cfg
}

// Run serves the crowd until ctx is cancelled, then shuts the server down.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NewLogger(os.Stderr, "pedestrians", cfg.LogLevel)
	}

	namedSinks, err := loggingsinks.FromConfig(cfg.Logging, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to construct logging sinks: %w", err)
	}
	router, err := logging.NewRouter(logging.SystemClock, cfg.Logging, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := router.Close(closeCtx); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hub := pedestrians.NewHub(cfg.Hub, pedestrians.HubDeps{
		Logger:    logger,
		Publisher: router,
	})
	if cfg.ScenarioFile != "" {
		s, err := scenario.Load(cfg.ScenarioFile)
		if err != nil {
			return err
		}
		ids, err := s.Apply(hub.Crowd())
		if err != nil {
			return fmt.Errorf("failed to apply scenario: %w", err)
		}
		logger.Printf("loaded scenario %q with %d pedestrians", s.Name, len(ids))
	}

	stop := make(chan struct{})
	go hub.RunSimulation(stop)
	defer close(stop)

	handler := servernet.NewHTTPHandler(hub, servernet.HTTPHandlerConfig{
		Logger:        logger,
		Observability: cfg.Observability,
		AccessLog:     cfg.AccessLog,
		Extra: func() any {
			return struct {
				Logging logging.RouterStats `json:"logging"`
			}{Logging: router.Stats()}
		},
	})

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.Printf("server listening on %s (tick rate %d)", ln.Addr(), cfg.Hub.TickRate())
	if cfg.OnListen != nil {
		cfg.OnListen(ln.Addr())
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
