package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr          string
	DBPath              string
	AnalysisBackend     string
	OllamaHost          string
	OllamaModel         string
	ClaudeAPIKey        string
	ClaudeModel         string
	SnapshotURL         string
	FrameTTL            time.Duration
	SampleInterval      time.Duration
	SampleTimeout       time.Duration
	SimilarityThreshold float64
	MaxHistoryTurns     int
	CaptureTriggers     []string
	MuteTriggers        []string
	UnmuteTriggers      []string
	LogLevel            string
	LogFile             string
}

func Load() *Config {
	return &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		DBPath:              getEnv("DB_PATH", "/data/sceneguide.db"),
		AnalysisBackend:     getEnv("ANALYSIS_BACKEND", "ollama"),
		OllamaHost:          getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:         getEnv("OLLAMA_MODEL", "moondream"),
		ClaudeAPIKey:        getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:         getEnv("CLAUDE_MODEL", "claude-3-5-sonnet-20241022"),
		SnapshotURL:         getEnv("SNAPSHOT_URL", ""),
		FrameTTL:            getEnvDuration("FRAME_TTL", 10*time.Second),
		SampleInterval:      getEnvDuration("SAMPLE_INTERVAL", 2*time.Second),
		SampleTimeout:       getEnvDuration("SAMPLE_TIMEOUT", 10*time.Second),
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.75),
		MaxHistoryTurns:     getEnvInt("MAX_HISTORY_TURNS", 6),
		CaptureTriggers:     getEnvList("CAPTURE_TRIGGERS"),
		MuteTriggers:        getEnvList("MUTE_TRIGGERS"),
		UnmuteTriggers:      getEnvList("UNMUTE_TRIGGERS"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFile:             getEnv("LOG_FILE", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvList parses a comma-separated list. Unset or empty means nil,
// leaving the consumer's defaults in effect.
func getEnvList(key string) []string {
	val, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvInt(key string, defaultVal int) int {
	if val, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}
