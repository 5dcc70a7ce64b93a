package api

import (
    "hookrelay/internal/auth"
    "hookrelay/internal/config"
    "hookrelay/internal/delivery"
    "hookrelay/internal/metrics"
    "hookrelay/internal/receiver"
    "hookrelay/internal/store"
)

type Server struct {
    Cfg    config.Config
    Store  store.Store
    Pub    *delivery.Publisher
    Engine *delivery.Engine
    Auth   *auth.Verifier
    Broker EventBroker
    Dedup  receiver.DedupStore
}

// NewServer creates a Server. If DatabaseURL is unset, uses the in-memory store.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if cfg.DatabaseURL == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.Migrate {
            _ = sp.MigrateDir("db/migrations")
        }
        s = sp
    }

    var broker EventBroker
    var dedup receiver.DedupStore
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil { broker = rb } else { broker = NewBroker() }
        if rd, err := receiver.NewRedisDedup(cfg.RedisURL); err == nil { dedup = rd } else { dedup = receiver.NewMemoryDedup() }
    } else {
        broker = NewBroker()
        dedup = receiver.NewMemoryDedup()
    }

    metrics.RegisterDefault()
    return &Server{
        Cfg:    cfg,
        Store:  s,
        Pub:    delivery.NewPublisher(s),
        Engine: delivery.NewEngine(cfg.Worker.AttemptTimeout.Std()),
        Auth:   auth.NewVerifierFromEnv(),
        Broker: broker,
        Dedup:  dedup,
    }, nil
}

// NewWebhookWorker creates the background delivery scheduler, wired to the
// broker so status changes reach live stream subscribers.
func (s *Server) NewWebhookWorker() *delivery.Scheduler {
    w := delivery.NewScheduler(s.Store, s.Engine, delivery.SchedulerConfig{
        MaxAttempts:  s.Cfg.Worker.MaxAttempts,
        BaseDelay:    s.Cfg.Worker.BaseDelay.Std(),
        MaxDelay:     s.Cfg.Worker.MaxDelay.Std(),
        PollInterval: s.Cfg.Worker.PollInterval.Std(),
        BatchSize:    s.Cfg.Worker.BatchSize,
        Workers:      s.Cfg.Worker.Workers,
        RatePerSec:   s.Cfg.Worker.RatePerSec,
        Retention:    s.Cfg.Worker.Retention.Std(),
    })
    w.Notifier = brokerNotifier{s.Broker}
    return w
}

type brokerNotifier struct{ b EventBroker }

func (n brokerNotifier) DeliveryEvent(orgID string, evt map[string]any) {
    n.b.Publish(orgID, StatusEvent{Type: "delivery.status", Data: evt})
}
