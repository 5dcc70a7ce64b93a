// Package config loads service configuration from an optional YAML file with
// environment-variable overrides. Every option is an explicit, named field
// with a documented default; nothing is read from loose option bags.
package config

import (
    "fmt"
    "os"
    "strconv"
    "time"

    yaml "gopkg.in/yaml.v3"
)

type Config struct {
    Addr        string `yaml:"addr"`        // listen address, default ":8080"
    DevMode     bool   `yaml:"devMode"`     // relaxes destination URL checks (plain http, local hosts)
    DatabaseURL string `yaml:"databaseUrl"` // empty -> in-memory store
    RedisURL    string `yaml:"redisUrl"`    // empty -> in-memory event broker
    Migrate     bool   `yaml:"migrate"`     // apply db/migrations on startup, default true

    Worker   Worker   `yaml:"worker"`
    Receiver Receiver `yaml:"receiver"`
}

// Worker holds the delivery scheduler policy knobs.
type Worker struct {
    MaxAttempts    int      `yaml:"maxAttempts"`    // default 5
    BaseDelay      Duration `yaml:"baseDelay"`      // default 1s
    MaxDelay       Duration `yaml:"maxDelay"`       // default 5m
    AttemptTimeout Duration `yaml:"attemptTimeout"` // default 30s
    PollInterval   Duration `yaml:"pollInterval"`   // default 1s
    BatchSize      int      `yaml:"batchSize"`      // default 50
    Workers        int      `yaml:"workers"`        // default 8
    RatePerSec     float64  `yaml:"ratePerSec"`     // default 50
    Retention      Duration `yaml:"retention"`      // default 168h (7d)
}

// Receiver holds the settings for the built-in reference receiver endpoint.
type Receiver struct {
    ReplayWindow Duration `yaml:"replayWindow"` // default 5m
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
    var s string
    if err := n.Decode(&s); err != nil {
        return err
    }
    v, err := time.ParseDuration(s)
    if err != nil {
        return fmt.Errorf("invalid duration %q: %v", s, err)
    }
    *d = Duration(v)
    return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func defaults() Config {
    return Config{
        Addr:    ":8080",
        Migrate: true,
        Worker: Worker{
            MaxAttempts:    5,
            BaseDelay:      Duration(1 * time.Second),
            MaxDelay:       Duration(5 * time.Minute),
            AttemptTimeout: Duration(30 * time.Second),
            PollInterval:   Duration(1 * time.Second),
            BatchSize:      50,
            Workers:        8,
            RatePerSec:     50,
            Retention:      Duration(7 * 24 * time.Hour),
        },
        Receiver: Receiver{ReplayWindow: Duration(5 * time.Minute)},
    }
}

// Load reads path if it exists, then applies environment overrides. A missing
// file is not an error; env-only deployments are the common case.
func Load(path string) (Config, error) {
    cfg := defaults()
    if path != "" {
        b, err := os.ReadFile(path)
        if err == nil {
            if err := yaml.Unmarshal(b, &cfg); err != nil {
                return Config{}, fmt.Errorf("parse %s: %w", path, err)
            }
        } else if !os.IsNotExist(err) {
            return Config{}, err
        }
    }
    cfg.applyEnv()
    return cfg, nil
}

func (c *Config) applyEnv() {
    if v := os.Getenv("PORT"); v != "" { c.Addr = ":" + v }
    if v := os.Getenv("DATABASE_URL"); v != "" { c.DatabaseURL = v }
    if v := os.Getenv("REDIS_URL"); v != "" { c.RedisURL = v }
    if v := os.Getenv("DEV_MODE"); v != "" { c.DevMode = v == "true" || v == "1" }
    if v := os.Getenv("DB_MIGRATE"); v != "" { c.Migrate = v != "false" }
    if v := os.Getenv("WEBHOOK_MAX_ATTEMPTS"); v != "" {
        if n, err := strconv.Atoi(v); err == nil && n > 0 { c.Worker.MaxAttempts = n }
    }
    if v := os.Getenv("WEBHOOK_ATTEMPT_TIMEOUT"); v != "" {
        if d, err := time.ParseDuration(v); err == nil { c.Worker.AttemptTimeout = Duration(d) }
    }
    if v := os.Getenv("WEBHOOK_RETENTION"); v != "" {
        if d, err := time.ParseDuration(v); err == nil { c.Worker.Retention = Duration(d) }
    }
}
