package main

import (
	"os"

	"github.com/joho/godotenv"
)

type config struct {
	Addr        string
	DatabaseURL string
	SQLitePath  string
	StoreKind   string // "gorm" or "memory"
	LogLevel    string
}

func loadConfig() config {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	return config{
		Addr:        getenv("ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getenv("SQLITE_PATH", "coread.db"),
		StoreKind:   getenv("STORE", "gorm"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
