package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr          string // HTTP/websocket listen address
	DBPath        string
	DataDir       string // каталог для аватаров и загруженных файлов
	WriteTimeout  int    // seconds
	StrictCalls   bool   // требовать дружбу и для call_request, не только для чата
	AuthRateLimit int    // запросов в минуту на IP для register/login
	AuthRateBurst int
}

func Load() *Config {
	cfg := &Config{
		Addr:          ":3000",
		DBPath:        "starmsg.db",
		DataDir:       "data",
		WriteTimeout:  30,
		StrictCalls:   false,
		AuthRateLimit: 30,
		AuthRateBurst: 10,
	}

	if addr := os.Getenv("STARMSG_ADDR"); addr != "" {
		cfg.Addr = addr
	}

	if dbPath := os.Getenv("STARMSG_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if dataDir := os.Getenv("STARMSG_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	if timeoutStr := os.Getenv("STARMSG_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if strictStr := os.Getenv("STARMSG_STRICT_CALLS"); strictStr != "" {
		cfg.StrictCalls = strictStr == "1" || strictStr == "true"
	}

	if limitStr := os.Getenv("STARMSG_AUTH_RATE_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			cfg.AuthRateLimit = limit
		}
	}

	if burstStr := os.Getenv("STARMSG_AUTH_RATE_BURST"); burstStr != "" {
		if burst, err := strconv.Atoi(burstStr); err == nil {
			cfg.AuthRateBurst = burst
		}
	}

	return cfg
}
