package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/model-zoo/pkg/config"
	"github.com/docker/model-zoo/pkg/hub"
	"github.com/docker/model-zoo/pkg/logging"
	"github.com/docker/model-zoo/pkg/metrics"
	"github.com/docker/model-zoo/pkg/middleware"
	"github.com/docker/model-zoo/pkg/routing"
)

var log = logging.New()

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	source, err := cfg.Source()
	if err != nil {
		log.Fatalf("Failed to configure remote source: %v", err)
	}

	collector := metrics.NewCollector(log.WithField("component", "metrics"))
	modelHub, err := hub.New(hub.Options{
		CacheDir: cfg.CacheDir,
		Source:   source,
		Logger:   log,
		Metrics:  collector,
	})
	if err != nil {
		log.Fatalf("Failed to initialize model hub: %v", err)
	}
	log.Infof("Cache directory: %s", modelHub.CacheDir())
	log.Infof("Remote source: %s", modelHub.Source())

	server := &http.Server{Handler: newRouter(log, cfg, modelHub, collector)}
	serverErrors := make(chan error, 1)

	// Check if we should use TCP port instead of Unix socket
	if cfg.Port != "" {
		addr := ":" + cfg.Port
		log.Infof("Listening on TCP port %s", cfg.Port)
		server.Addr = addr
		go func() {
			serverErrors <- server.ListenAndServe()
		}()
	} else {
		if err := os.Remove(cfg.Socket); err != nil {
			if !os.IsNotExist(err) {
				log.Fatalf("Failed to remove existing socket: %v", err)
			}
		}
		ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: cfg.Socket, Net: "unix"})
		if err != nil {
			log.Fatalf("Failed to listen on socket: %v", err)
		}
		log.Infof("Listening on socket %s", cfg.Socket)
		go func() {
			serverErrors <- server.Serve(ln)
		}()
	}

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Errorf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Infoln("Shutdown signal received")
		log.Infoln("Shutting down the server")
		if err := server.Close(); err != nil {
			log.Errorf("Server shutdown error: %v", err)
		}
	}
	log.Infoln("Model zoo stopped")
}

// newRouter mounts the hub API and, unless disabled, the metrics endpoint.
// API requests from cfg.Origins are allowed cross-origin.
func newRouter(log logging.Logger, cfg *config.Config, h *hub.Hub, collector *metrics.Collector) http.Handler {
	router := routing.NewNormalizedServeMux()
	api := middleware.CORS(cfg.Origins, hub.NewHTTPHandler(log, h))
	router.Handle("/models", api)
	router.Handle("/models/", api)

	// Add metrics endpoint if enabled
	if !cfg.DisableMetrics {
		router.Handle("/metrics", collector)
		log.Info("Metrics endpoint enabled at /metrics")
	} else {
		log.Info("Metrics endpoint disabled")
	}
	return router
}
