package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process-level settings read from the environment. Tuning
// parameters live in the JSON tuning config; this covers only the knobs
// that differ per deployment.
type Env struct {
	DBPath     string `env:"MESHSCAN_DB_PATH" envDefault:"meshscan.db"`
	UDPAddr    string `env:"MESHSCAN_UDP_ADDR" envDefault:":9920"`
	HTTPAddr   string `env:"MESHSCAN_HTTP_ADDR" envDefault:":8080"`
	ConfigPath string `env:"MESHSCAN_CONFIG"`
	ArchiveDir string `env:"MESHSCAN_ARCHIVE_DIR"`
	ExportDir  string `env:"MESHSCAN_EXPORT_DIR" envDefault:"exports"`
	Debug      bool   `env:"MESHSCAN_DEBUG"`
}

// LoadEnv parses the environment into an Env.
func LoadEnv() (*Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return &e, nil
}
