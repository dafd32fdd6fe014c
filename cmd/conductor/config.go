package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all conductor CLI configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string  `json:"db_path"`
	LogLevel      string  `json:"log_level"`
	MeshMaxIter   int     `json:"mesh_max_iterations"`
	MeshThreshold float64 `json:"mesh_threshold"`
}

func defaultConfig() Config {
	return Config{
		DBPath:   filepath.Join(conductorDir(), "conductor.db"),
		LogLevel: "info",
	}
}

func conductorDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conductor"
	}
	return filepath.Join(home, ".conductor")
}

func settingsPath() string {
	return filepath.Join(conductorDir(), "settings.json")
}

func loadConfig() Config {
	// A .env in the working directory feeds the env layer (ignore if missing).
	_ = godotenv.Load()

	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CONDUCTOR_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CONDUCTOR_MESH_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MeshMaxIter = n
		}
	}
	if v := os.Getenv("CONDUCTOR_MESH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MeshThreshold = f
		}
	}

	return cfg
}
