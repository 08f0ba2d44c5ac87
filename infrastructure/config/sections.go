package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DatabaseSection configures the global persistence layer (instances,
// jobs, reattach records, chat settings, repository settings, compile
// history — spec §6 "Persisted state layout").
type DatabaseSection struct {
	DatabaseType       string `json:"DatabaseType"`
	ConnectionString   string `json:"ConnectionString"`
	MigrationTimeoutMS int    `json:"MigrationTimeoutMilliseconds"`
}

// GeneralSection configures daemon-wide behaviour: the install directory
// whose descendants no instance may collide with (spec §4.1), the
// default HTTP port and the minimum acceptable password length (spec §8
// boundary behaviour).
type GeneralSection struct {
	InstallDirectory    string `json:"InstallDirectory"`
	HTTPPort            int    `json:"HttpPort"`
	MinimumPasswordLen  int    `json:"MinimumPasswordLength"`
	HeartbeatRetryLimit int    `json:"HeartbeatRetryLimit"`
}

// FileLoggingSection configures the on-disk log sink.
type FileLoggingSection struct {
	Enabled   bool   `json:"Enabled"`
	Directory string `json:"Directory"`
	LogLevel  string `json:"LogLevel"`
}

// ControlPanelSection configures the embedded static control-panel
// bundle, served alongside the API.
type ControlPanelSection struct {
	Enabled bool   `json:"Enabled"`
	Channel string `json:"Channel"`
}

// KestrelSection configures the HTTP listener (named after the source
// project's web server for fidelity to the on-disk config shape; here
// it supplies the chi-based listener's bind address). CertPath and
// KeyPath are parsed but not read by the daemon; the listener serves
// plain HTTP.
type KestrelSection struct {
	BindAddress string `json:"BindAddress"`
	CertPath    string `json:"CertPath,omitempty"`
	KeyPath     string `json:"KeyPath,omitempty"`
}

// Config is the root configuration document (spec §6 "Config file: JSON
// with sections Database, General, FileLogging, ControlPanel, optional
// Kestrel").
type Config struct {
	Database     DatabaseSection      `json:"Database"`
	General      GeneralSection       `json:"General"`
	FileLogging  FileLoggingSection   `json:"FileLogging"`
	ControlPanel ControlPanelSection  `json:"ControlPanel"`
	Kestrel      *KestrelSection      `json:"Kestrel,omitempty"`
}

// Default returns a Config with sane development defaults.
func Default() Config {
	return Config{
		Database: DatabaseSection{
			DatabaseType:       "PostgresSql",
			MigrationTimeoutMS: 30000,
		},
		General: GeneralSection{
			InstallDirectory:    "/opt/hostd",
			HTTPPort:            5000,
			MinimumPasswordLen:  12,
			HeartbeatRetryLimit: 3,
		},
		FileLogging: FileLoggingSection{
			Enabled:   true,
			Directory: "/opt/hostd/logs",
			LogLevel:  "Information",
		},
		ControlPanel: ControlPanelSection{
			Enabled: true,
			Channel: "stable",
		},
	}
}

// Load reads and merges a JSON config file over Default(). Environment
// variables of the form "HOSTD_<SECTION>__<FIELD>" are not expanded here
// (unlike the source project's layered env-var provider) — a thin JSON
// file is sufficient for this daemon's scope and keeps config loading a
// single, auditable read instead of a reflective multi-provider merge
// (spec §9 "runtime reflection ... replace with an explicit ... record").
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
