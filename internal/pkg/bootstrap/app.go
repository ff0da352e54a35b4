// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"storepulse/internal/pkg/config"
	"storepulse/internal/pkg/logger"
	"storepulse/internal/pkg/nacos"
	"storepulse/internal/pkg/tracing"
)

// AppCtx is what a service gets to wire its dependencies.
type AppCtx struct {
	Config config.Config
	Nacos  *nacos.Client // nil when nacos is disabled
}

// CleanupFunc runs during shutdown. Cleanups run in reverse registration order.
type CleanupFunc func(ctx context.Context) error

// AppInfo holds everything specific to one binary.
type AppInfo struct {
	ServiceName string
	ConfigPath  string
	// Build wires the service and returns its root handler.
	Build func(ctx context.Context, app AppCtx) (http.Handler, []CleanupFunc, error)
}

// Setup loads configuration (file, env, then the nacos document when enabled) and initializes logging.
// The returned client is nil when nacos is disabled.
func Setup(serviceName, configPath string) (config.Config, *nacos.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg.Service.Name = serviceName
	logger.Init(serviceName, cfg.Service.Environment, cfg.Service.LogLevel)

	if !cfg.Nacos.Enabled {
		return cfg, nil, nil
	}
	nc, err := nacos.NewClient(cfg.Nacos)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cfg.Nacos.DataID != "" {
		content, err := nc.FetchConfig(cfg.Nacos.DataID)
		if err != nil {
			log.Warn().Err(err).Msg("nacos config unavailable, continuing with local config")
		} else if content != "" {
			if err := cfg.Overlay([]byte(content)); err != nil {
				return config.Config{}, nil, err
			}
			if err := cfg.Validate(); err != nil {
				return config.Config{}, nil, err
			}
			cfg.Service.Name = serviceName
			logger.Init(serviceName, cfg.Service.Environment, cfg.Service.LogLevel)
		}
	}
	return cfg, nc, nil
}

// StartService runs the shared startup and graceful shutdown sequence of every storepulse service.
func StartService(info AppInfo) {
	cfg, nc, err := Setup(info.ServiceName, info.ConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var cleanups []CleanupFunc
	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Tracing.JaegerEndpoint, cfg.Tracing.SampleRatio)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize tracer provider")
		}
		cleanups = append(cleanups, tp.Shutdown)
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	rootCtx = log.Logger.WithContext(rootCtx)

	handler, serviceCleanups, err := info.Build(rootCtx, AppCtx{Config: cfg, Nacos: nc})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire service")
	}
	cleanups = append(cleanups, serviceCleanups...)

	port := cfg.Service.HTTPPort
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", port).Msgf("%s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("addr", server.Addr).Msg("could not listen")
		}
	}()

	var ip string
	if nc != nil {
		ip, err = outboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := nc.RegisterServiceInstance(info.ServiceName, ip, port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("shutting down service %s", info.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Leave the registry first so no new traffic is routed here.
	if nc != nil {
		if err := nc.DeregisterServiceInstance(info.ServiceName, ip, port); err != nil {
			log.Error().Err(err).Msg("error deregistering from nacos")
		}
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("error shutting down http server")
	}
	cancelRoot()
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](ctx); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}
	if nc != nil {
		nc.Close()
	}
	log.Info().Msgf("service %s gracefully shut down", info.ServiceName)
}

func outboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
