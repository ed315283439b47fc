package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EnvironmentOnly(t *testing.T) {
	t.Setenv("REID_TOP_K", "20")
	t.Setenv("REID_SEED", "7")
	t.Setenv("REID_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	if cfg.Eval.TopK != 20 {
		t.Errorf("Eval.TopK = %d, want 20", cfg.Eval.TopK)
	}

	if cfg.Eval.Seed != 7 {
		t.Errorf("Eval.Seed = %d, want 7", cfg.Eval.Seed)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
eval:
  top_k: 50
  num_repeats: 25
  seed: 1234
  workers: 2
server:
  host: "127.0.0.1"
  port: 8888
log:
  level: warn
  format: json
history:
  type: none
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Eval.TopK != 50 {
		t.Errorf("Eval.TopK = %d, want 50", cfg.Eval.TopK)
	}

	if cfg.Eval.NumRepeats != 25 {
		t.Errorf("Eval.NumRepeats = %d, want 25", cfg.Eval.NumRepeats)
	}

	if cfg.Eval.Seed != 1234 {
		t.Errorf("Eval.Seed = %d, want 1234", cfg.Eval.Seed)
	}

	if cfg.Eval.BlockRows != 256 {
		t.Errorf("Eval.BlockRows = %d, want default 256", cfg.Eval.BlockRows)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %s, want 127.0.0.1", cfg.Server.Host)
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}

	if cfg.History.Type != "none" {
		t.Errorf("History.Type = %s, want none", cfg.History.Type)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Eval.TopK != 100 {
		t.Errorf("Eval.TopK = %d, want 100", cfg.Eval.TopK)
	}
	if cfg.Eval.NumRepeats != 10 {
		t.Errorf("Eval.NumRepeats = %d, want 10", cfg.Eval.NumRepeats)
	}
	if cfg.Eval.Seed != 0 {
		t.Errorf("Eval.Seed = %d, want 0", cfg.Eval.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "zero top k",
			modify: func(c *Config) {
				c.Eval.TopK = 0
			},
			wantErr: true,
		},
		{
			name: "zero repeats",
			modify: func(c *Config) {
				c.Eval.NumRepeats = 0
			},
			wantErr: true,
		},
		{
			name: "zero workers",
			modify: func(c *Config) {
				c.Eval.Workers = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port",
			modify: func(c *Config) {
				c.Server.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Log.Level = "invalid"
			},
			wantErr: true,
		},
		{
			name: "invalid bus type",
			modify: func(c *Config) {
				c.Bus.Type = "nats"
			},
			wantErr: true,
		},
		{
			name: "kafka without brokers",
			modify: func(c *Config) {
				c.Bus.Type = "kafka"
			},
			wantErr: true,
		},
		{
			name: "kafka with brokers",
			modify: func(c *Config) {
				c.Bus.Type = "kafka"
				c.Bus.KafkaBrokers = "localhost:9092"
			},
			wantErr: false,
		},
		{
			name: "invalid history type",
			modify: func(c *Config) {
				c.History.Type = "sqlite"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8080

	if addr := cfg.Address(); addr != "localhost:8080" {
		t.Errorf("Address() = %s, want localhost:8080", addr)
	}
}
