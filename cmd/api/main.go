package main

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "os"
    "strconv"
    "time"

    "github.com/prometheus/client_golang/prometheus/promhttp"

    "hookrelay/internal/api"
    "hookrelay/internal/config"
    "hookrelay/internal/metrics"
)

func main() {
    cfgPath := os.Getenv("CONFIG_FILE")
    if cfgPath == "" {
        cfgPath = "hookrelay.yaml"
    }
    cfg, err := config.Load(cfgPath)
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }

    mux := http.NewServeMux()

    // Events
    mux.HandleFunc("/v1/events", srvDeps.EventsHandler)

    // Destination configuration
    mux.HandleFunc("/v1/destination", srvDeps.DestinationHandler)
    mux.HandleFunc("/v1/destination/test", srvDeps.DestinationTestHandler)

    // Delivery history and administration
    mux.HandleFunc("/v1/deliveries", srvDeps.DeliveriesHandler)
    mux.HandleFunc("/v1/deliveries/stream", srvDeps.StreamHandler)
    mux.HandleFunc("/v1/deliveries/", srvDeps.DeliveryByIDHandler) // includes /redrive, /cancel
    mux.HandleFunc("/v1/admin/delivery-metrics", srvDeps.DeliveryMetricsHandler)

    // Reference receiver (dev aid)
    mux.HandleFunc("/v1/receiver/echo", srvDeps.ReceiverEchoHandler)

    // Health
    mux.HandleFunc("/healthz", srvDeps.HealthHandler)
    mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

    // Prometheus
    mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

    srv := &http.Server{
        Addr:              cfg.Addr,
        Handler:           logMiddleware(mux),
        ReadHeaderTimeout: 5 * time.Second,
    }

    log.Printf("API listening on %s", cfg.Addr)
    // Start webhook delivery worker
    worker := srvDeps.NewWebhookWorker()
    worker.Start()
    if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
        log.Fatalf("server error: %v", err)
    }
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sw := &statusWriter{ResponseWriter: w, status: 200}
        next.ServeHTTP(sw, r)
        dur := time.Since(start)
        metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(sw.status)).Observe(dur.Seconds())
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
    })
}

type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    w.status = code
    w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the WebSocket upgrade on /v1/deliveries/stream works.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok {
        return nil, nil, errors.New("hijack not supported")
    }
    return h.Hijack()
}
