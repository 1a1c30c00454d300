package worker

import (
	"strings"
	"time"

	"docjobs/internal/config"
)

// Config holds configuration for the worker harness. The job fields are
// injected by the launcher; the generator command comes from the image.
type Config struct {
	JobID           string
	RepositoryID    string
	CallbackURL     string
	CallbackToken   string
	Prompt          string
	Command         []string
	WorkDir         string
	OutputDir       string
	Timeout         time.Duration
	CallbackRetries int
	MaxFiles        int
	MaxFileBytes    int64
}

// LoadConfigFromEnv loads worker configuration from environment variables.
func LoadConfigFromEnv() *Config {
	return &Config{
		JobID:           config.GetEnv("JOB_ID", ""),
		RepositoryID:    config.GetEnv("REPOSITORY_ID", ""),
		CallbackURL:     config.GetEnv("CALLBACK_URL", ""),
		CallbackToken:   config.GetEnv("CALLBACK_TOKEN", ""),
		Prompt:          config.GetEnv("PROMPT", ""),
		Command:         strings.Fields(config.GetEnv("GENERATOR_COMMAND", "")),
		WorkDir:         config.GetEnv("WORK_DIR", "/workspace"),
		OutputDir:       config.GetEnv("OUTPUT_DIR", "docs"),
		Timeout:         config.GetDurationEnv("GENERATOR_TIMEOUT", 30*time.Minute),
		CallbackRetries: config.GetIntEnv("CALLBACK_RETRIES", 5),
		MaxFiles:        config.GetIntEnv("MAX_FILES", 1000),
		MaxFileBytes:    int64(config.GetIntEnv("MAX_FILE_BYTES", 1<<20)),
	}
}
