package config

import (
	"flag"
	"os"
	"time"
)

type Config struct {
	Env             string
	HTTPAddr        string
	Storage         string
	DBDriver        string
	DBDSN           string
	ClientOrigin    string
	ShutdownTimeout time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getdur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func Load() Config {
	var addr string
	var storage string
	var env string
	flag.StringVar(&addr, "http", getenv("HTTP_ADDR", ":3001"), "addr")
	flag.StringVar(&storage, "storage", getenv("STORAGE", "memory"), "storage")
	flag.StringVar(&env, "env", getenv("APP_ENV", "dev"), "env")
	flag.Parse()
	return Config{
		Env:             env,
		HTTPAddr:        addr,
		Storage:         storage,
		DBDriver:        getenv("DB_DRIVER", "pgx"),
		DBDSN:           getenv("DB_DSN", ""),
		ClientOrigin:    getenv("CLIENT_ORIGIN", "http://localhost:5173"),
		ShutdownTimeout: getdur("SHUTDOWN_TIMEOUT", 5*time.Second),
	}
}
