package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

// Config is everything the entry points read from the environment.
type Config struct {
	StoreDSN    string
	ParamPrefix string
	OwnAddress  string

	MaxSteps         int
	RecentLimit      int
	RecencyWindow    time.Duration
	GenerateTimeout  time.Duration
	TransportTimeout time.Duration

	LLMProvider    string
	OpenAIModel    string
	OpenAIBaseURL  string
	VertexProject  string
	VertexLocation string
	VertexModel    string

	GCPProject         string
	PubSubSubscription string
	PubSubTopic        string
	WatchSchedule      string
	WatchLabels        []string

	RedisAddr string
	DedupTTL  time.Duration

	CampaignFile string
	LogLevel     string
}

// Load reads and validates the environment.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		StoreDSN:    getEnv("STORE_DSN", ""),
		ParamPrefix: getEnv("PARAM_PREFIX", ""),
		OwnAddress:  strings.ToLower(getEnv("OWN_ADDRESS", "")),

		MaxSteps:         envInt("MAX_STEPS", 4, &errs),
		RecentLimit:      envInt("RECENT_LIMIT", 10, &errs),
		RecencyWindow:    envDuration("RECENCY_WINDOW", 5*time.Minute, &errs),
		GenerateTimeout:  envDuration("GENERATE_TIMEOUT", 30*time.Second, &errs),
		TransportTimeout: envDuration("TRANSPORT_TIMEOUT", 15*time.Second, &errs),

		LLMProvider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		VertexProject:  getEnv("VERTEX_PROJECT", getEnv("GCP_PROJECT", "")),
		VertexLocation: getEnv("VERTEX_LOCATION", "us-central1"),
		VertexModel:    getEnv("VERTEX_MODEL", "gemini-2.5-flash"),

		GCPProject:         getEnv("GCP_PROJECT", ""),
		PubSubSubscription: getEnv("PUBSUB_SUBSCRIPTION", ""),
		PubSubTopic:        getEnv("PUBSUB_TOPIC", ""),
		WatchSchedule:      getEnv("WATCH_SCHEDULE", "@every 24h"),
		WatchLabels:        envList("WATCH_LABELS", []string{"INBOX"}),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		DedupTTL:  envDuration("DEDUP_TTL", 168*time.Hour, &errs),

		CampaignFile: getEnv("CAMPAIGN_FILE", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	if cfg.StoreDSN == "" {
		errs = append(errs, errors.New("STORE_DSN is required"))
	}
	if cfg.ParamPrefix == "" {
		errs = append(errs, errors.New("PARAM_PREFIX is required"))
	}
	if cfg.MaxSteps < 1 {
		errs = append(errs, fmt.Errorf("MAX_STEPS must be at least 1, got %d", cfg.MaxSteps))
	}
	switch cfg.LLMProvider {
	case ProviderOpenAI:
	case ProviderVertex:
		if cfg.VertexProject == "" {
			errs = append(errs, errors.New("VERTEX_PROJECT or GCP_PROJECT is required for the vertex provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderOpenAI, ProviderVertex, cfg.LLMProvider))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// PubSubEnabled reports whether pull delivery is configured.
func (c Config) PubSubEnabled() bool {
	return c.GCPProject != "" && c.PubSubSubscription != ""
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func envList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
