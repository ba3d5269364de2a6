package config

import (
	"os"
	"time"
)

type Config struct {
	BackendURL    string
	UserID        string
	ProbeTimeout  time.Duration
	ReconnectWait time.Duration
	DownloadDir   string
}

func Load() Config {
	return Config{
		BackendURL:    getEnv("TASKBRIDGE_URL", "http://127.0.0.1:8000"),
		UserID:        getEnv("TASKBRIDGE_USER_ID", ""),
		ProbeTimeout:  getEnvDuration("TASKBRIDGE_PROBE_TIMEOUT", 3*time.Second),
		ReconnectWait: getEnvDuration("TASKBRIDGE_RECONNECT_WAIT", 3*time.Second),
		DownloadDir:   getEnv("TASKBRIDGE_DOWNLOAD_DIR", "."),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
