package config

import (
	"os"
	"strconv"
)

type Config struct {
	PgConn     string
	ServerAddr string
	ChatModel  string
	LLMBaseURL string
	LLMAPIKey  string

	ChunkSize    int
	ChunkOverlap int
	DailyLimit   int

	// RelevanceTimeoutSec bounds a single chunk classification call so one
	// stalled request cannot hang the whole filter stage.
	RelevanceTimeoutSec int
}

func Load() *Config {
	return &Config{
		PgConn:              getenv("PG_CONN", "host=localhost port=5432 user=postgres password=postgres dbname=docsage sslmode=disable"),
		ServerAddr:          getenv("SERVER_ADDR", ":8080"),
		ChatModel:           getenv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:          getenv("LLM_BASE_URL", "http://localhost:1234/v1"),
		LLMAPIKey:           getenv("LLM_API_KEY", "not-needed"),
		ChunkSize:           getint("CHUNK_SIZE", 2000),
		ChunkOverlap:        getint("CHUNK_OVERLAP", 200),
		DailyLimit:          getint("DAILY_MESSAGE_LIMIT", 50),
		RelevanceTimeoutSec: getint("RELEVANCE_TIMEOUT_SECONDS", 30),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
