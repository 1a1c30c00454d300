package docker

import (
	"time"

	"docjobs/internal/config"
)

// Config holds configuration for the Docker worker launcher.
type Config struct {
	Image               string        // worker image; empty disables launching
	CallbackURL         string        // URL the worker posts callbacks to, as reachable from the container
	Network             string        // Docker network to attach workers to (optional)
	ExtraHosts          []string      // extra /etc/hosts entries (e.g. ["host.docker.internal:host-gateway"])
	CPU                 float64       // CPU limit in cores, 0 = unlimited
	MemoryMB            int           // memory limit in MiB, 0 = unlimited
	Retention           time.Duration // how long exited worker containers are kept (default 15m)
	MaintenanceInterval time.Duration // how often exited containers are cleaned up (default 1m)
}

// LoadConfigFromEnv loads launcher configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Image:               config.GetEnv("WORKER_IMAGE", ""),
		CallbackURL:         config.GetEnv("WORKER_CALLBACK_URL", "http://host.docker.internal:8080/v1/callbacks"),
		Network:             config.GetEnv("WORKER_NETWORK", ""),
		ExtraHosts:          config.GetListEnv("WORKER_EXTRA_HOSTS"),
		CPU:                 float64(config.GetIntEnv("WORKER_CPU_MILLIS", 0)) / 1000,
		MemoryMB:            config.GetIntEnv("WORKER_MEMORY_MB", 0),
		Retention:           config.GetDurationEnv("WORKER_RETENTION", 15*time.Minute),
		MaintenanceInterval: config.GetDurationEnv("WORKER_MAINTENANCE_INTERVAL", time.Minute),
	}
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = 15 * time.Minute
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = time.Minute
	}
	return c
}
