package config

import (
	"os"
	"time"
)

type Config struct {
	BaseURL      string
	DataDir      string
	ManifestDB   string
	Headless     bool
	RequestDelay time.Duration
	YearWorkers  int
}

func Load() Config {
	return Config{
		BaseURL:      getEnv("NSE_BASE_URL", "https://www.nseindia.com"),
		DataDir:      getEnv("NSE_DATA_DIR", "nse_data"),
		ManifestDB:   getEnv("NSE_MANIFEST_DB", "nse_manifest.db"),
		Headless:     getEnvBool("NSE_HEADLESS", true),
		RequestDelay: time.Duration(getEnvInt("NSE_REQUEST_DELAY_SECONDS", 2)) * time.Second,
		YearWorkers:  getEnvInt("NSE_YEAR_WORKERS", 1),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return fallback
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	switch os.Getenv(key) {
	case "":
		return fallback
	case "0", "false", "no":
		return false
	default:
		return true
	}
}
