package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/brensch/arxivrefs/internal/db"
	"github.com/brensch/arxivrefs/internal/util"
)

const (
	DefaultOutputBaseDir   = "data"
	DefaultDBFile          = "arxivrefs_state.duckdb"
	DefaultDBDriver        = db.DriverDuckDB
	DefaultBucket          = "arxiv"
	DefaultRegion          = "us-east-1"
	DefaultManifestKey     = "pdf/arXiv_PDF_manifest.xml"
	DefaultManifestFile    = "manifest.xml"
	DefaultDownloadWorkers = 4
	DefaultExtractTimeout  = 5 * time.Minute
	DefaultRetries         = 3
	DefaultRetryBaseDelay  = 2 * time.Second
	DefaultRetryMaxDelay   = 30 * time.Second
)

var (
	// Default number of extraction workers, one per CPU.
	DefaultExtractWorkers = runtime.NumCPU()
)

// Config holds application settings
type Config struct {
	OutputBaseDir string `yaml:"output-base-dir"`
	DBPath        string `yaml:"db-path"`
	DBDriver      string `yaml:"db-driver"`

	Bucket        string `yaml:"bucket"`
	Region        string `yaml:"region"`
	RequesterPays bool   `yaml:"requester-pays"`
	MirrorURL     string `yaml:"mirror-url"`
	ManifestKey   string `yaml:"manifest-key"`

	DownloadWorkers int           `yaml:"download-workers"`
	ExtractWorkers  int           `yaml:"extract-workers"`
	ExtractTimeout  time.Duration `yaml:"extract-timeout"`
	Retries         int           `yaml:"retries"`
	RetryBaseDelay  time.Duration `yaml:"retry-base-delay"`
	RetryMaxDelay   time.Duration `yaml:"retry-max-delay"`
	DownloadRate    float64       `yaml:"download-rate"`

	LogFormat string `yaml:"log-format"`
	LogLevel  string `yaml:"log-level"`
	LogOutput string `yaml:"log-output"`
}

// Default returns a Config populated with the package defaults.
func Default() Config {
	return Config{
		OutputBaseDir:   DefaultOutputBaseDir,
		DBDriver:        DefaultDBDriver,
		Bucket:          DefaultBucket,
		Region:          DefaultRegion,
		RequesterPays:   true,
		ManifestKey:     DefaultManifestKey,
		DownloadWorkers: DefaultDownloadWorkers,
		ExtractWorkers:  DefaultExtractWorkers,
		ExtractTimeout:  DefaultExtractTimeout,
		Retries:         DefaultRetries,
		RetryBaseDelay:  DefaultRetryBaseDelay,
		RetryMaxDelay:   DefaultRetryMaxDelay,
		LogFormat:       "text",
		LogLevel:        "info",
		LogOutput:       "stderr",
	}
}

// Validate checks the values every command depends on.
func (c Config) Validate() error {
	var errs []error
	if c.OutputBaseDir == "" {
		errs = append(errs, errors.New("output-base-dir is required"))
	}
	if c.DBDriver != db.DriverDuckDB && c.DBDriver != db.DriverSQLite {
		errs = append(errs, fmt.Errorf("db-driver must be %q or %q, got %q", db.DriverDuckDB, db.DriverSQLite, c.DBDriver))
	}
	if c.MirrorURL == "" && c.Bucket == "" {
		errs = append(errs, errors.New("either bucket or mirror-url is required"))
	}
	if c.ManifestKey == "" {
		errs = append(errs, errors.New("manifest-key is required"))
	}
	if c.DownloadWorkers < 1 {
		errs = append(errs, fmt.Errorf("download-workers must be at least 1, got %d", c.DownloadWorkers))
	}
	if c.ExtractWorkers < 1 {
		errs = append(errs, fmt.Errorf("extract-workers must be at least 1, got %d", c.ExtractWorkers))
	}
	if c.ExtractTimeout <= 0 {
		errs = append(errs, fmt.Errorf("extract-timeout must be positive, got %s", c.ExtractTimeout))
	}
	if c.Retries < 1 {
		errs = append(errs, fmt.Errorf("retries must be at least 1, got %d", c.Retries))
	}
	if c.DownloadRate < 0 {
		errs = append(errs, fmt.Errorf("download-rate must not be negative, got %g", c.DownloadRate))
	}
	return errors.Join(errs...)
}

// ResolvedDBPath is DBPath, or the default state file under the output base.
func (c Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.OutputBaseDir, DefaultDBFile)
}

// ManifestCachePath is where the manifest XML is cached between runs.
func (c Config) ManifestCachePath() string {
	return filepath.Join(c.OutputBaseDir, DefaultManifestFile)
}

// RefsDir is <base>/<YYYY-MM>/refs.
func (c Config) RefsDir(ym util.YearMonth) string {
	return filepath.Join(c.OutputBaseDir, ym.String(), "refs")
}

// ReportsDir is <base>/<YYYY-MM>/reports.
func (c Config) ReportsDir(ym util.YearMonth) string {
	return filepath.Join(c.OutputBaseDir, ym.String(), "reports")
}

// LoadFile overlays the YAML file at path onto c. Keys for which changed
// reports true (flags set explicitly on the command line) are left alone.
func (c *Config) LoadFile(path string, changed func(key string) bool) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return c.overlay(raw, changed)
}

func (c *Config) overlay(raw []byte, changed func(key string) bool) error {
	var keys map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &keys); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if changed == nil {
		changed = func(string) bool { return false }
	}
	for key, node := range keys {
		if changed(key) {
			continue
		}
		target, ok := c.field(key)
		if !ok {
			return fmt.Errorf("parse config: unknown key %q", key)
		}
		if err := node.Decode(target); err != nil {
			return fmt.Errorf("parse config key %q: %w", key, err)
		}
	}
	return nil
}

func (c *Config) field(key string) (any, bool) {
	switch key {
	case "output-base-dir":
		return &c.OutputBaseDir, true
	case "db-path":
		return &c.DBPath, true
	case "db-driver":
		return &c.DBDriver, true
	case "bucket":
		return &c.Bucket, true
	case "region":
		return &c.Region, true
	case "requester-pays":
		return &c.RequesterPays, true
	case "mirror-url":
		return &c.MirrorURL, true
	case "manifest-key":
		return &c.ManifestKey, true
	case "download-workers":
		return &c.DownloadWorkers, true
	case "extract-workers":
		return &c.ExtractWorkers, true
	case "extract-timeout":
		return &c.ExtractTimeout, true
	case "retries":
		return &c.Retries, true
	case "retry-base-delay":
		return &c.RetryBaseDelay, true
	case "retry-max-delay":
		return &c.RetryMaxDelay, true
	case "download-rate":
		return &c.DownloadRate, true
	case "log-format":
		return &c.LogFormat, true
	case "log-level":
		return &c.LogLevel, true
	case "log-output":
		return &c.LogOutput, true
	}
	return nil, false
}
