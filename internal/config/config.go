package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppName is the directory name used under the XDG data and config homes.
const AppName = "todo-store"

type Config struct {
	Port         string
	DBDriver     string
	DBPath       string
	DatabaseURL  string
	SettingsPath string
	SeedURL      string
	SeedTimeout  time.Duration
	// Ephemeral runs against an in-memory store and skips remote seeding.
	Ephemeral bool
	Debug     bool
}

func Load() Config {
	return Config{
		Port:         getEnv("PORT", "8080"),
		DBDriver:     getEnv("TODO_DB_DRIVER", "sqlite"),
		DBPath:       getEnv("TODO_DB_PATH", filepath.Join(DataDir(), "todos.db")),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SettingsPath: getEnv("TODO_SETTINGS_PATH", filepath.Join(ConfigDir(), "settings.yaml")),
		SeedURL:      getEnv("TODO_SEED_URL", "https://dummyjson.com/todos"),
		SeedTimeout:  getDuration("TODO_SEED_TIMEOUT", 10*time.Second),
		Ephemeral:    getBool("TODO_EPHEMERAL", false),
	}
}

// DataDir is $XDG_DATA_HOME/todo-store, or ~/.local/share/todo-store.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ConfigDir is $XDG_CONFIG_HOME/todo-store, or ~/.config/todo-store.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func xdgDir(env, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return AppName
	}
	return filepath.Join(home, fallback, AppName)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}
