// Package worker implements the worker runtime: configuration and
// identity, control-plane registration and heartbeat, the in-memory
// universe manager with its agent loops, the event sender, and the local
// HTTP surface.
package worker

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when neither flags nor environment set a value.
const (
	DefaultAPIURL            = "http://localhost:8000"
	DefaultCapacity          = 1024
	DefaultPort              = 8100
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultMaxTurns          = 10
	DefaultMaxIterations     = 200
)

// Config holds the worker runtime configuration. Precedence is
// flags > environment > defaults.
type Config struct {
	APIURL            string
	WorkerName        string
	Capacity          int
	Port              int
	AdvertiseAddress  string
	Capabilities      []string
	HeartbeatInterval time.Duration

	AnthropicBaseURL string
	AnthropicAPIKey  string
	Model            string
	MaxTurns         int
	MaxIterations    int
}

// LoadConfig builds a Config from environment variables and the given
// command-line arguments (not including the program name).
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{
		APIURL:            getEnv("JARVIS_API_URL", DefaultAPIURL),
		WorkerName:        getEnv("JARVIS_WORKER_NAME", ""),
		Capacity:          getEnvInt("JARVIS_CAPACITY", DefaultCapacity),
		Port:              getEnvInt("JARVIS_WORKER_PORT", DefaultPort),
		AdvertiseAddress:  getEnv("JARVIS_WORKER_ADDRESS", ""),
		Capabilities:      splitList(getEnv("JARVIS_CAPABILITIES", "git,claude-code")),
		HeartbeatInterval: getEnvDuration("JARVIS_HEARTBEAT_INTERVAL", DefaultHeartbeatInterval),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", ""),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		Model:             getEnv("JARVIS_LLM_MODEL", DefaultModel),
		MaxTurns:          getEnvInt("JARVIS_MAX_TURNS", DefaultMaxTurns),
		MaxIterations:     getEnvInt("JARVIS_MAX_ITERATIONS", DefaultMaxIterations),
	}

	fs := flag.NewFlagSet("jarvis-worker", flag.ContinueOnError)
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "control plane base URL")
	fs.StringVar(&cfg.WorkerName, "name", cfg.WorkerName, "worker display name (default: hostname)")
	fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "max concurrent agents")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "local HTTP listen port")
	fs.StringVar(&cfg.AdvertiseAddress, "address", cfg.AdvertiseAddress, "address advertised to the control plane")
	capabilities := fs.String("capabilities", strings.Join(cfg.Capabilities, ","), "comma-separated capability list")
	fs.DurationVar(&cfg.HeartbeatInterval, "heartbeat-interval", cfg.HeartbeatInterval, "heartbeat period")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "LLM model id")
	fs.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "outer turn limit per agent")
	fs.IntVar(&cfg.MaxIterations, "max-iterations", cfg.MaxIterations, "inner iteration limit per turn")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Capabilities = splitList(*capabilities)

	if cfg.WorkerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		cfg.WorkerName = hostname
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be positive, got %d", cfg.Capacity)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.AdvertiseAddress == "" {
		cfg.AdvertiseAddress = fmt.Sprintf("http://%s:%d", cfg.WorkerName, cfg.Port)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
