// Package config loads and validates the YAML run configuration. The file
// shape follows the converter's historical config (influxdb block,
// base_path, start_date, until_ts_offset) and extends it with discovery,
// output, checkpoint and status sections.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nicktill/whisperflux/pkg/influx"
	"github.com/nicktill/whisperflux/pkg/lineproto"
)

const dateLayout = "2006-01-02"

// Discovery modes.
const (
	DiscoverInflux = "influx"
	DiscoverWalk   = "walk"
	DiscoverCSV    = "csv"
)

// Output modes.
const (
	OutputInflux = "influx"
	OutputFile   = "file"
)

// Duration accepts Go duration strings ("30s", "2m") in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// InfluxDB holds the connection settings shared by discovery and output.
type InfluxDB struct {
	URL                string   `yaml:"url"`
	User               string   `yaml:"user"`
	Password           string   `yaml:"password"`
	SourceDB           string   `yaml:"source_db"`
	TargetDB           string   `yaml:"target_db"`
	Timeout            Duration `yaml:"timeout"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// Discovery selects how metrics are enumerated.
type Discovery struct {
	// Mode is influx (tag index of the source database), walk (scan the
	// archive tree) or csv (an exported entity list).
	Mode    string `yaml:"mode"`
	CSVPath string `yaml:"csv_path"`
}

// Checkpoint controls resumable runs.
type Checkpoint struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Output selects where rendered lines go in a live (non-simulated) run.
type Output struct {
	// Mode is influx (bulk write API) or file (gzip line protocol export).
	Mode string `yaml:"mode"`
	File string `yaml:"file"`
}

// Config is the full run configuration.
type Config struct {
	InfluxDB    InfluxDB   `yaml:"influxdb"`
	BasePath    string     `yaml:"base_path"`
	StartDate   string     `yaml:"start_date"`
	UntilOffset int64      `yaml:"until_ts_offset"`
	BatchSize   int        `yaml:"batch_size"`
	Precision   string     `yaml:"precision"`
	Workers     int        `yaml:"workers"`
	ReadTimeout Duration   `yaml:"read_timeout"`
	Discovery   Discovery  `yaml:"discovery"`
	Checkpoint  Checkpoint `yaml:"checkpoint"`
	Output      Output     `yaml:"output"`
	StatusAddr  string     `yaml:"status_addr"`
}

// Default returns a config with the defaults a minimal file inherits.
// Workers, batch size and read timeout stay zero; the pipeline supplies
// its own defaults for those.
func Default() *Config {
	return &Config{
		InfluxDB:   InfluxDB{Timeout: Duration(influx.DefaultTimeout)},
		Precision:  lineproto.DefaultPrecision,
		Discovery:  Discovery{Mode: DiscoverInflux},
		Checkpoint: Checkpoint{Dir: "./whisperflux-checkpoints"},
		Output:     Output{Mode: OutputInflux},
	}
}

// Load reads, parses and validates the YAML file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the invariants the pipeline assumes. It fails fast:
// the run aborts here before any archive or database is touched.
func (c *Config) Validate() error {
	if c.BasePath == "" {
		return errors.New("base_path is required")
	}
	if c.StartDate == "" {
		return errors.New("start_date is required")
	}
	if _, err := time.ParseInLocation(dateLayout, c.StartDate, time.UTC); err != nil {
		return fmt.Errorf("invalid start_date %q (expected YYYY-MM-DD)", c.StartDate)
	}
	if c.UntilOffset < 0 {
		return fmt.Errorf("until_ts_offset must not be negative, got %d", c.UntilOffset)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative, got %d", c.BatchSize)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.ReadTimeout < 0 {
		return errors.New("read_timeout must not be negative")
	}
	if _, err := lineproto.NewSerializer(c.Precision); err != nil {
		return err
	}

	switch c.Discovery.Mode {
	case DiscoverInflux:
		if c.InfluxDB.URL == "" {
			return errors.New("influxdb.url is required for influx discovery")
		}
		if c.InfluxDB.SourceDB == "" {
			return errors.New("influxdb.source_db is required for influx discovery")
		}
	case DiscoverWalk:
		// base_path is already required.
	case DiscoverCSV:
		if c.Discovery.CSVPath == "" {
			return errors.New("discovery.csv_path is required for csv discovery")
		}
	default:
		return fmt.Errorf("unknown discovery.mode %q (expected influx, walk or csv)", c.Discovery.Mode)
	}

	switch c.Output.Mode {
	case OutputInflux:
		if c.InfluxDB.URL == "" {
			return errors.New("influxdb.url is required for influx output")
		}
		if c.InfluxDB.TargetDB == "" {
			return errors.New("influxdb.target_db is required for influx output")
		}
	case OutputFile:
		if c.Output.File == "" {
			return errors.New("output.file is required for file output")
		}
	default:
		return fmt.Errorf("unknown output.mode %q (expected influx or file)", c.Output.Mode)
	}

	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		return errors.New("checkpoint.dir is required when checkpointing is enabled")
	}

	return nil
}

// Window bounds a run: [From, Until) in unix seconds.
type Window struct {
	From  int64
	Until int64
}

// Window derives the conversion window as of now: start_date at UTC
// midnight up to now minus until_ts_offset.
func (c *Config) Window(now time.Time) (Window, error) {
	day, err := time.ParseInLocation(dateLayout, c.StartDate, time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("invalid start_date %q (expected YYYY-MM-DD)", c.StartDate)
	}

	w := Window{
		From:  day.Unix(),
		Until: now.Unix() - c.UntilOffset,
	}
	if w.From >= w.Until {
		return Window{}, fmt.Errorf("conversion window is empty: start_date %s, until_ts_offset %d", c.StartDate, c.UntilOffset)
	}
	return w, nil
}
