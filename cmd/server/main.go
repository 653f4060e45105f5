// Command server is the composition root: it wires the process-wide
// singletons (PortAllocator, CrossCameraRegistry, EventSink, WorkerPool,
// Detector), reads startup configuration from Postgres via
// internal/configstore, and boots the Supervisor that owns every
// camera's Pipeline. The control/inspection HTTP API (per spec.md §6,
// "invoked by external HTTP layer — not part of the core spec") is out
// of scope here; this binary exposes only a small ambient ops surface —
// health and Prometheus metrics — grounded on the teacher's own
// cmd/server/main.go composition-root shape (env-driven wiring of the
// process-wide singletons, then a minimal ops HTTP server alongside
// the core loop).
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/visionserve/internal/configstore"
	"github.com/technosupport/visionserve/internal/crosscam"
	"github.com/technosupport/visionserve/internal/detector"
	"github.com/technosupport/visionserve/internal/eventsink"
	"github.com/technosupport/visionserve/internal/model"
	"github.com/technosupport/visionserve/internal/portalloc"
	"github.com/technosupport/visionserve/internal/supervisor"
	"github.com/technosupport/visionserve/internal/workerpool"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func buildDetector(logger *log.Logger) *detector.Detector {
	switch strings.ToLower(envOr("DETECTOR_BACKEND", "heuristic")) {
	case "cpu":
		return detector.New(detector.NewCPUBackend(os.Getenv("ONNXRUNTIME_LIB"), os.Getenv("ONNXRUNTIME_MODEL"), logger))
	case "grpc":
		return detector.New(detector.NewGRPCBackend(envOr("DETECTOR_GRPC_ADDR", "localhost:50051"), envOr("DETECTOR_MODEL_TAG", "default"), logger))
	default:
		return detector.New(detector.HeuristicBackend{})
	}
}

func buildChannels(logger *log.Logger) []eventsink.Channel {
	var channels []eventsink.Channel
	for _, kind := range strings.Split(envOr("EVENT_SINK_KINDS", "http"), ",") {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "http":
			if url := os.Getenv("EVENT_SINK_HTTP_URL"); url != "" {
				channels = append(channels, eventsink.NewHTTPChannel("http", url, &http.Client{Timeout: 5 * time.Second}))
			}
		case "websocket":
			channels = append(channels, eventsink.NewWebSocketChannel("websocket"))
		case "mqtt", "nats", "":
			// MQTT and NATS channels need a live broker connection
			// supplied by the deployment; without one configured via
			// env this ambient composition root skips them rather
			// than dialing a broker that may not exist in this
			// environment.
		}
	}
	return channels
}

func groupROIsByCamera(rois []model.ROI) map[string][]model.ROI {
	out := make(map[string][]model.ROI)
	for _, r := range rois {
		out[r.CameraID] = append(out[r.CameraID], r)
	}
	return out
}

func groupRulesByCamera(rules []model.Rule) map[string][]model.Rule {
	out := make(map[string][]model.Rule)
	for _, r := range rules {
		out[r.CameraID] = append(out[r.CameraID], r)
	}
	return out
}

func main() {
	logger := log.New(os.Stdout, "visionserve: ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dsn := os.Getenv("CONFIG_STORE_DSN")
	if dsn == "" {
		logger.Fatal("CONFIG_STORE_DSN is required")
	}
	store, err := configstore.Open(ctx, dsn)
	if err != nil {
		logger.Fatalf("configstore: open: %v", err)
	}
	defer store.Close()

	snapshot, err := store.LoadAll(ctx)
	if err != nil {
		logger.Fatalf("configstore: load: %v", err)
	}
	logger.Printf("loaded %d video sources, %d rois, %d rules", len(snapshot.VideoSources), len(snapshot.ROIs), len(snapshot.Rules))

	ports := portalloc.New(envOrInt("PORT_POOL_BASE", portalloc.DefaultBasePort), envOrInt("PORT_POOL_SIZE", portalloc.DefaultPoolSize))
	registry := crosscam.New(crosscam.DefaultConfig(), logger)
	sink := eventsink.New(buildChannels(logger), eventsink.DefaultConfig(), logger)
	defer sink.Close()
	pool := workerpool.New(envOrInt("WORKER_POOL_SIZE", runtime.NumCPU()), envOrInt("WORKER_POOL_QUEUE_DEPTH", 64), logger)
	defer pool.Shutdown()
	det := buildDetector(logger)
	defer det.Close()

	supCfg := supervisor.DefaultConfig()
	supCfg.MaxPipelines = envOrInt("MAX_PIPELINES", supervisor.DefaultMaxPipelines)

	sup, err := supervisor.New(supCfg, ports, registry, sink, pool, det, runtime.NumCPU(), logger)
	if err != nil {
		logger.Fatalf("supervisor: new: %v", err)
	}

	roisByCamera := groupROIsByCamera(snapshot.ROIs)
	rulesByCamera := groupRulesByCamera(snapshot.Rules)

	for _, src := range snapshot.VideoSources {
		if !src.Enabled {
			continue
		}
		if err := sup.AddVideoSource(ctx, src); err != nil {
			logger.Printf("startup: add video source %s: %v", src.ID, err)
			continue
		}
		if rois, ok := roisByCamera[src.ID]; ok {
			if err := sup.SetROIs(src.ID, rois); err != nil {
				logger.Printf("startup: set rois for %s: %v", src.ID, err)
			}
		}
		if rules, ok := rulesByCamera[src.ID]; ok {
			if err := sup.SetRules(src.ID, rules); err != nil {
				logger.Printf("startup: set rules for %s: %v", src.ID, err)
			}
		}
	}

	sup.Start(ctx)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		active := sup.ListActive()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","activePipelines":%d}`, len(active))
	})
	router.Handle("/metrics", promhttp.Handler())

	addr := envOr("OPS_LISTEN_ADDR", ":9090")
	httpServer := &http.Server{Addr: addr, Handler: router}
	go func() {
		logger.Printf("ops server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("ops server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("ops server shutdown: %v", err)
	}

	sup.Stop()
	logger.Println("shutdown complete")
}
