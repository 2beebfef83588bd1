package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvLogLevel  = "YIELDLOOP_LOG_LEVEL"
	EnvJournalDB = "YIELDLOOP_JOURNAL_DB"
	EnvRunID     = "YIELDLOOP_RUN_ID"
)

// LoadEnv reads a dotenv file into the process environment. A missing file
// is not an error; variables already set win.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides operational settings from the environment. Risk and
// venue parameters are deliberately not overridable.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvJournalDB); v != "" {
		c.Journal.Type = "sqlite"
		c.Journal.DBPath = v
	}
	if v := os.Getenv(EnvRunID); v != "" {
		c.Run.ID = v
	}
}
