package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
influxdb:
  url: http://influx.example:8086
  user: grafana
  password: hunter2
  source_db: icinga2
  target_db: icinga2_history
  timeout: 45s
  insecure_skip_verify: true
base_path: /var/lib/graphite/whisper/icinga2
start_date: "2024-01-01"
until_ts_offset: 3600
batch_size: 2000
precision: ms
workers: 8
read_timeout: 2m
discovery:
  mode: csv
  csv_path: /tmp/entities.csv
checkpoint:
  enabled: true
  dir: /var/tmp/whisperflux
output:
  mode: file
  file: /tmp/export.lp.gz
status_addr: 127.0.0.1:9090
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InfluxDB.URL != "http://influx.example:8086" {
		t.Errorf("expected influx url to round-trip, got %q", cfg.InfluxDB.URL)
	}
	if cfg.InfluxDB.User != "grafana" || cfg.InfluxDB.Password != "hunter2" {
		t.Errorf("expected credentials to round-trip, got %q/%q", cfg.InfluxDB.User, cfg.InfluxDB.Password)
	}
	if cfg.InfluxDB.SourceDB != "icinga2" || cfg.InfluxDB.TargetDB != "icinga2_history" {
		t.Errorf("expected databases to round-trip, got %q/%q", cfg.InfluxDB.SourceDB, cfg.InfluxDB.TargetDB)
	}
	if cfg.InfluxDB.Timeout.Std() != 45*time.Second {
		t.Errorf("expected timeout 45s, got %v", cfg.InfluxDB.Timeout.Std())
	}
	if !cfg.InfluxDB.InsecureSkipVerify {
		t.Error("expected insecure_skip_verify to be set")
	}
	if cfg.BasePath != "/var/lib/graphite/whisper/icinga2" {
		t.Errorf("unexpected base_path %q", cfg.BasePath)
	}
	if cfg.StartDate != "2024-01-01" {
		t.Errorf("unexpected start_date %q", cfg.StartDate)
	}
	if cfg.UntilOffset != 3600 {
		t.Errorf("expected until_ts_offset 3600, got %d", cfg.UntilOffset)
	}
	if cfg.BatchSize != 2000 {
		t.Errorf("expected batch_size 2000, got %d", cfg.BatchSize)
	}
	if cfg.Precision != "ms" {
		t.Errorf("expected precision ms, got %q", cfg.Precision)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected workers 8, got %d", cfg.Workers)
	}
	if cfg.ReadTimeout.Std() != 2*time.Minute {
		t.Errorf("expected read_timeout 2m, got %v", cfg.ReadTimeout.Std())
	}
	if cfg.Discovery.Mode != DiscoverCSV || cfg.Discovery.CSVPath != "/tmp/entities.csv" {
		t.Errorf("unexpected discovery section: %+v", cfg.Discovery)
	}
	if !cfg.Checkpoint.Enabled || cfg.Checkpoint.Dir != "/var/tmp/whisperflux" {
		t.Errorf("unexpected checkpoint section: %+v", cfg.Checkpoint)
	}
	if cfg.Output.Mode != OutputFile || cfg.Output.File != "/tmp/export.lp.gz" {
		t.Errorf("unexpected output section: %+v", cfg.Output)
	}
	if cfg.StatusAddr != "127.0.0.1:9090" {
		t.Errorf("unexpected status_addr %q", cfg.StatusAddr)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
influxdb:
  url: http://influx.example:8086
  source_db: icinga2
  target_db: icinga2_history
base_path: /var/lib/graphite/whisper/icinga2
start_date: "2024-01-01"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Precision != "s" {
		t.Errorf("expected default precision s, got %q", cfg.Precision)
	}
	if cfg.Discovery.Mode != DiscoverInflux {
		t.Errorf("expected default discovery mode influx, got %q", cfg.Discovery.Mode)
	}
	if cfg.Output.Mode != OutputInflux {
		t.Errorf("expected default output mode influx, got %q", cfg.Output.Mode)
	}
	if cfg.Checkpoint.Enabled {
		t.Error("expected checkpointing to default to disabled")
	}
	if cfg.Checkpoint.Dir == "" {
		t.Error("expected a default checkpoint dir")
	}
	if cfg.InfluxDB.Timeout.Std() != 30*time.Second {
		t.Errorf("expected default influx timeout 30s, got %v", cfg.InfluxDB.Timeout.Std())
	}
	if cfg.Workers != 0 || cfg.BatchSize != 0 {
		t.Errorf("expected workers and batch_size to stay zero, got %d/%d", cfg.Workers, cfg.BatchSize)
	}
	if cfg.UntilOffset != 0 {
		t.Errorf("expected until_ts_offset to default to zero, got %d", cfg.UntilOffset)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
influxdb:
  url: http://influx.example:8086
  source_db: icinga2
  target_db: icinga2_history
  timeout: soon
base_path: /whisper
start_date: "2024-01-01"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected an error for an unparseable duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected the duration to be named in the error, got %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.InfluxDB.URL = "http://influx.example:8086"
		cfg.InfluxDB.SourceDB = "icinga2"
		cfg.InfluxDB.TargetDB = "icinga2_history"
		cfg.BasePath = "/whisper"
		cfg.StartDate = "2024-01-01"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing base path",
			mutate:  func(c *Config) { c.BasePath = "" },
			wantErr: "base_path",
		},
		{
			name:    "missing start date",
			mutate:  func(c *Config) { c.StartDate = "" },
			wantErr: "start_date",
		},
		{
			name:    "malformed start date",
			mutate:  func(c *Config) { c.StartDate = "01.02.2024" },
			wantErr: "start_date",
		},
		{
			name:    "negative offset",
			mutate:  func(c *Config) { c.UntilOffset = -1 },
			wantErr: "until_ts_offset",
		},
		{
			name:    "negative batch size",
			mutate:  func(c *Config) { c.BatchSize = -5 },
			wantErr: "batch_size",
		},
		{
			name:    "negative workers",
			mutate:  func(c *Config) { c.Workers = -2 },
			wantErr: "workers",
		},
		{
			name:    "unknown precision",
			mutate:  func(c *Config) { c.Precision = "fortnights" },
			wantErr: "precision",
		},
		{
			name:    "unknown discovery mode",
			mutate:  func(c *Config) { c.Discovery.Mode = "ldap" },
			wantErr: "discovery.mode",
		},
		{
			name:    "csv discovery without path",
			mutate:  func(c *Config) { c.Discovery.Mode = DiscoverCSV },
			wantErr: "csv_path",
		},
		{
			name: "influx discovery without source db",
			mutate: func(c *Config) {
				c.InfluxDB.SourceDB = ""
			},
			wantErr: "source_db",
		},
		{
			name:    "unknown output mode",
			mutate:  func(c *Config) { c.Output.Mode = "kafka" },
			wantErr: "output.mode",
		},
		{
			name:    "file output without file",
			mutate:  func(c *Config) { c.Output.Mode = OutputFile },
			wantErr: "output.file",
		},
		{
			name: "influx output without target db",
			mutate: func(c *Config) {
				c.InfluxDB.TargetDB = ""
			},
			wantErr: "target_db",
		},
		{
			name: "checkpoint enabled without dir",
			mutate: func(c *Config) {
				c.Checkpoint.Enabled = true
				c.Checkpoint.Dir = ""
			},
			wantErr: "checkpoint.dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("expected the baseline config to validate, got %v", err)
	}
}

func TestWindow_Derivation(t *testing.T) {
	cfg := Default()
	cfg.StartDate = "2024-01-01"
	cfg.UntilOffset = 3600

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	w, err := cfg.Window(now)
	if err != nil {
		t.Fatalf("Window failed: %v", err)
	}

	if w.From != 1704067200 {
		t.Errorf("expected from at 2024-01-01 UTC midnight (1704067200), got %d", w.From)
	}
	if want := now.Unix() - 3600; w.Until != want {
		t.Errorf("expected until %d, got %d", want, w.Until)
	}
}

func TestWindow_RejectsEmptyWindow(t *testing.T) {
	cfg := Default()
	cfg.StartDate = "2030-01-01"

	if _, err := cfg.Window(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)); err == nil {
		t.Fatal("expected an error for a start date in the future")
	}
}
