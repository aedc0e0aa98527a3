package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"imgscraper/pkg/config"
	"imgscraper/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage imgscraper configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (IMGSCRAPER_*), including a .env file
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as 'imgscraper.yaml'
unless a different path is specified with the --config flag.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Show the configuration after merging defaults, the config file and the environment.`,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate a configuration file for syntax errors and invalid values.

This command checks:
  - YAML syntax
  - Value types and ranges
  - The URL template and resolution bounds
  - Output and log directory accessibility`,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
}

const exampleConfig = `# imgscraper configuration file
#
# Every option can also be set with an IMGSCRAPER_ environment variable,
# for example IMGSCRAPER_SEARCH_KEYS="cats,dogs" or IMGSCRAPER_WORKERS=4.

output:
  # Each key gets its own sub-directory here
  root_directory: "./scraped_images"
  # Quality used when re-encoding JPEG images (1-100)
  jpeg_quality: 95
  # Write scrape_report.json into the root directory after each run
  write_report: true

search:
  # Search page URL; {search_key} is replaced by the escaped key
  url_template: "https://www.google.com/search?tbm=isch&q={search_key}"
  keys:
    - "red brick"
  # Stop a key after this many saved images
  images_per_key: 100
  # Stop a key after this many rejected images in a row
  max_missed: 10
  # Give up after this many scroll cycles
  max_scrolls: 20
  # Wait after each scroll for new results to load
  scroll_settle_delay: 2s

browser:
  headless: true
  # Leave empty to find Chrome on PATH
  exec_path: ""
  user_agent: ""
  navigation_timeout: 30s

# Inclusive bounds on accepted image size
resolution:
  min:
    width: 100
    height: 100
  max:
    width: 1000
    height: 1000

download:
  timeout: 10s
  # Total attempts per image, 1 disables retries
  retry_attempts: 1
  retry_delay: 500ms
  retry_backoff: exponential  # or constant
  # 0 disables throttling
  requests_per_second: 0
  max_image_bytes: 20971520

workers:
  # Keys scraped at once, one browser each
  count: 2

logging:
  # debug, info, warn, error, disabled
  level: "info"
  # Optional rotating log file
  file: ""
  max_size: 100
  max_backups: 3
  max_age: 7

metrics:
  enabled: false
  listen_addr: ":9090"
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath := configFile
	if configPath == "" {
		configPath = "imgscraper.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists: %s", configPath)
	}

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	ui.PrintSuccess("Configuration file created: " + configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Edit the search keys and resolution bounds")
	fmt.Println("2. Run 'imgscraper config validate' to check the configuration")
	fmt.Println("3. Start scraping with 'imgscraper scrape'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Println()
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (IMGSCRAPER_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (first found of the default locations)")
	}
	fmt.Println("4. Default values")
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		for _, loc := range config.ConfigLocations() {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
		if path == "" {
			return fmt.Errorf("no configuration file found, specify one with --config")
		}
	}

	ui.PrintInfo("Validating configuration", path)

	cfg, err := config.Load(path, nil)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	problems, warnings := checkEnvironment(cfg)
	if len(problems) > 0 {
		ui.PrintError("Configuration has errors:")
		for _, p := range problems {
			fmt.Printf("  - %s\n", p)
		}
		return fmt.Errorf("%d configuration errors", len(problems))
	}
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Printf("  - %s\n", w)
		}
		fmt.Println()
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Println("\nConfiguration summary:")
	fmt.Printf("  Output directory: %s\n", cfg.Output.RootDirectory)
	fmt.Printf("  Search keys: %d\n", len(cfg.Search.Keys))
	fmt.Printf("  Images per key: %d\n", cfg.Search.ImagesPerKey)
	fmt.Printf("  Resolution: %s to %s\n", cfg.Resolution.Min, cfg.Resolution.Max)
	fmt.Printf("  Workers: %d\n", cfg.Workers.Count)
	fmt.Printf("  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// checkEnvironment reports problems Validate cannot see from the values alone
func checkEnvironment(cfg *config.Config) (problems, warnings []string) {
	if err := os.MkdirAll(cfg.Output.RootDirectory, 0755); err != nil {
		problems = append(problems, fmt.Sprintf("cannot create output directory: %v", err))
	}
	if cfg.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
			problems = append(problems, fmt.Sprintf("cannot create log directory: %v", err))
		}
	}
	if len(cfg.Search.Keys) == 0 {
		warnings = append(warnings, "no search keys configured, they must be given on the command line")
	}
	if cfg.Browser.ExecPath != "" {
		if _, err := os.Stat(cfg.Browser.ExecPath); err != nil {
			problems = append(problems, fmt.Sprintf("chrome executable not found: %s", cfg.Browser.ExecPath))
		}
	}
	return problems, warnings
}
