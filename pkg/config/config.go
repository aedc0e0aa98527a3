package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SearchKeyPlaceholder is the single substitution point in a URL template
const SearchKeyPlaceholder = "{search_key}"

// Config holds all configuration options for the image scraper
type Config struct {
	// Output settings
	Output OutputConfig `yaml:"output" json:"output"`

	// Search page and per-key quotas
	Search SearchConfig `yaml:"search" json:"search"`

	// Browser session settings
	Browser BrowserConfig `yaml:"browser" json:"browser"`

	// Accepted image dimensions
	Resolution ResolutionConfig `yaml:"resolution" json:"resolution"`

	// Image download settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Worker pool settings
	Workers WorkersConfig `yaml:"workers" json:"workers"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Prometheus metrics
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	RootDirectory string `yaml:"root_directory" json:"root_directory"`
	JPEGQuality   int    `yaml:"jpeg_quality" json:"jpeg_quality"`
	WriteReport   bool   `yaml:"write_report" json:"write_report"`
}

// SearchConfig describes what to search for and when to stop
type SearchConfig struct {
	URLTemplate       string        `yaml:"url_template" json:"url_template"`
	Keys              []string      `yaml:"keys" json:"keys"`
	ImagesPerKey      int           `yaml:"images_per_key" json:"images_per_key"`
	MaxMissed         int           `yaml:"max_missed" json:"max_missed"`
	MaxScrolls        int           `yaml:"max_scrolls" json:"max_scrolls"`
	ScrollSettleDelay time.Duration `yaml:"scroll_settle_delay" json:"scroll_settle_delay"`
}

// BrowserConfig holds browser automation settings
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" json:"headless"`
	ExecPath          string        `yaml:"exec_path" json:"exec_path"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
}

// Dimensions is a width/height pair in pixels
type Dimensions struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// ResolutionConfig holds the inclusive min/max image dimensions
type ResolutionConfig struct {
	Min Dimensions `yaml:"min" json:"min"`
	Max Dimensions `yaml:"max" json:"max"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts     int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryDelay        time.Duration `yaml:"retry_delay" json:"retry_delay"`
	RetryBackoff      string        `yaml:"retry_backoff" json:"retry_backoff"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second"`
	MaxImageBytes     int64         `yaml:"max_image_bytes" json:"max_image_bytes"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
}

// WorkersConfig holds worker pool configuration
type WorkersConfig struct {
	Count int `yaml:"count" json:"count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSize    int    `yaml:"max_size" json:"max_size"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// MetricsConfig holds Prometheus exporter configuration
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Output: OutputConfig{
			RootDirectory: "./scraped_images",
			JPEGQuality:   95,
			WriteReport:   true,
		},
		Search: SearchConfig{
			URLTemplate:       "https://www.google.com/search?tbm=isch&q=" + SearchKeyPlaceholder,
			ImagesPerKey:      100,
			MaxMissed:         10,
			MaxScrolls:        20,
			ScrollSettleDelay: 2 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NavigationTimeout: 30 * time.Second,
		},
		Resolution: ResolutionConfig{
			Min: Dimensions{Width: 100, Height: 100},
			Max: Dimensions{Width: 1000, Height: 1000},
		},
		Download: DownloadConfig{
			Timeout:           10 * time.Second,
			RetryAttempts:     1,
			RetryDelay:        500 * time.Millisecond,
			RetryBackoff:      "exponential",
			RequestsPerSecond: 0, // 0 means no limit
			MaxImageBytes:     20 << 20,
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		Workers: WorkersConfig{
			Count: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   false,
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9090",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if outputDir := os.Getenv("IMGSCRAPER_OUTPUT_DIR"); outputDir != "" {
		c.Output.RootDirectory = outputDir
	}
	if tmpl := os.Getenv("IMGSCRAPER_URL_TEMPLATE"); tmpl != "" {
		c.Search.URLTemplate = tmpl
	}
	if keys := os.Getenv("IMGSCRAPER_SEARCH_KEYS"); keys != "" {
		c.Search.Keys = splitKeys(keys)
	}
	if v := os.Getenv("IMGSCRAPER_IMAGES_PER_KEY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGSCRAPER_IMAGES_PER_KEY: %w", err))
		} else {
			c.Search.ImagesPerKey = n
		}
	}
	if v := os.Getenv("IMGSCRAPER_MAX_MISSED"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGSCRAPER_MAX_MISSED: %w", err))
		} else {
			c.Search.MaxMissed = n
		}
	}
	if v := os.Getenv("IMGSCRAPER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGSCRAPER_WORKERS: %w", err))
		} else {
			c.Workers.Count = n
		}
	}
	if v := os.Getenv("IMGSCRAPER_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGSCRAPER_HEADLESS: %w", err))
		} else {
			c.Browser.Headless = b
		}
	}
	if v := os.Getenv("IMGSCRAPER_CHROME_PATH"); v != "" {
		c.Browser.ExecPath = v
	}
	if v := os.Getenv("IMGSCRAPER_DOWNLOAD_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("IMGSCRAPER_DOWNLOAD_TIMEOUT: %w", err))
		} else {
			c.Download.Timeout = d
		}
	}
	if logLevel := os.Getenv("IMGSCRAPER_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr := os.Getenv("IMGSCRAPER_METRICS_ADDR"); addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = addr
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	for _, loc := range ConfigLocations() {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// ConfigLocations lists the config file paths checked, in order of precedence
func ConfigLocations() []string {
	home := os.Getenv("HOME")
	return []string{
		"imgscraper.yaml",
		"imgscraper.yml",
		".imgscraper.yaml",
		".imgscraper.yml",
		filepath.Join(home, ".config", "imgscraper", "config.yaml"),
		filepath.Join(home, ".config", "imgscraper", "config.yml"),
		filepath.Join(home, ".imgscraper.yaml"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	// Output
	if c.Output.RootDirectory == "" {
		errs = append(errs, errors.New("output root directory is required"))
	}
	if c.Output.JPEGQuality < 1 || c.Output.JPEGQuality > 100 {
		errs = append(errs, errors.New("jpeg quality must be between 1 and 100"))
	}

	// Search
	if err := ValidateURLTemplate(c.Search.URLTemplate); err != nil {
		errs = append(errs, err)
	}
	for _, key := range c.Search.Keys {
		if key == "." || key == ".." {
			errs = append(errs, fmt.Errorf("search key %q is not a usable directory name", key))
		}
	}
	if c.Search.ImagesPerKey <= 0 {
		errs = append(errs, errors.New("images per key must be positive"))
	}
	if c.Search.MaxMissed <= 0 {
		errs = append(errs, errors.New("max missed must be positive"))
	}
	if c.Search.MaxScrolls <= 0 {
		errs = append(errs, errors.New("max scrolls must be positive"))
	}
	if c.Search.ScrollSettleDelay < 0 {
		errs = append(errs, errors.New("scroll settle delay cannot be negative"))
	}

	// Browser
	if c.Browser.NavigationTimeout < 0 {
		errs = append(errs, errors.New("navigation timeout cannot be negative"))
	}

	// Resolution
	if err := c.Resolution.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Download
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}
	if c.Download.RetryAttempts < 1 {
		errs = append(errs, errors.New("download retry attempts must be at least 1"))
	}
	if c.Download.RetryDelay < 0 {
		errs = append(errs, errors.New("download retry delay cannot be negative"))
	}
	if c.Download.RetryBackoff != "exponential" && c.Download.RetryBackoff != "constant" {
		errs = append(errs, fmt.Errorf("unknown download retry backoff %q", c.Download.RetryBackoff))
	}
	if c.Download.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}
	if c.Download.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("max image bytes must be positive"))
	}

	// Workers
	if c.Workers.Count < 1 {
		errs = append(errs, errors.New("worker count must be at least 1"))
	}

	// Logging
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		errs = append(errs, errors.New("metrics listen address is required when metrics are enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Validate checks that both bounds are positive and min <= max per axis
func (r ResolutionConfig) Validate() error {
	var errs []error
	if r.Min.Width <= 0 || r.Min.Height <= 0 {
		errs = append(errs, errors.New("min resolution must be positive"))
	}
	if r.Max.Width <= 0 || r.Max.Height <= 0 {
		errs = append(errs, errors.New("max resolution must be positive"))
	}
	if r.Min.Width > r.Max.Width || r.Min.Height > r.Max.Height {
		errs = append(errs, fmt.Errorf("min resolution %dx%d exceeds max resolution %dx%d",
			r.Min.Width, r.Min.Height, r.Max.Width, r.Max.Height))
	}
	return errors.Join(errs...)
}

// ValidateURLTemplate checks that tmpl is an absolute http(s) URL with exactly one placeholder
func ValidateURLTemplate(tmpl string) error {
	if tmpl == "" {
		return errors.New("url template is required")
	}
	if n := strings.Count(tmpl, SearchKeyPlaceholder); n != 1 {
		return fmt.Errorf("url template must contain %s exactly once, found %d", SearchKeyPlaceholder, n)
	}
	u, err := url.Parse(strings.Replace(tmpl, SearchKeyPlaceholder, "key", 1))
	if err != nil {
		return fmt.Errorf("url template is malformed: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url template must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("url template has no host")
	}
	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.RootDirectory = outputDir
	}
	if tmpl, ok := flags["url-template"].(string); ok && tmpl != "" {
		c.Search.URLTemplate = tmpl
	}
	if keys, ok := flags["keys"].([]string); ok && len(keys) > 0 {
		c.Search.Keys = keys
	}
	if n, ok := flags["images"].(int); ok {
		c.Search.ImagesPerKey = n
	}
	if n, ok := flags["max-missed"].(int); ok {
		c.Search.MaxMissed = n
	}
	if n, ok := flags["max-scrolls"].(int); ok {
		c.Search.MaxScrolls = n
	}
	if d, ok := flags["scroll-delay"].(time.Duration); ok {
		c.Search.ScrollSettleDelay = d
	}
	if headless, ok := flags["headless"].(bool); ok {
		c.Browser.Headless = headless
	}
	if n, ok := flags["workers"].(int); ok {
		c.Workers.Count = n
	}
	if d, ok := flags["download-timeout"].(time.Duration); ok {
		c.Download.Timeout = d
	}
	if dims, ok := flags["min-resolution"].(Dimensions); ok {
		c.Resolution.Min = dims
	}
	if dims, ok := flags["max-resolution"].(Dimensions); ok {
		c.Resolution.Max = dims
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Enabled = true
		c.Metrics.ListenAddr = addr
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".imgscraper.env"))

	// Start with defaults
	config := DefaultConfig()

	// Load from config file
	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	// Override with environment variables (includes values from .env)
	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Override with command line flags
	config.MergeCommandLineFlags(flags)

	// Validate final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// ParseDimensions parses a "WIDTHxHEIGHT" string such as "100x100"
func ParseDimensions(s string) (Dimensions, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Dimensions{}, fmt.Errorf("invalid dimensions %q, want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Dimensions{}, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Dimensions{}, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	return Dimensions{Width: width, Height: height}, nil
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// splitKeys splits a comma separated key list, dropping empty entries
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
