package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imgscraper/pkg/config"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/orchestrator"
	"imgscraper/pkg/report"
	"imgscraper/pkg/searchkey"
	"imgscraper/pkg/ui"
)

var (
	// Scrape command flags
	outputDir       string
	urlTemplate     string
	imagesPerKey    int
	maxMissed       int
	maxScrolls      int
	scrollDelay     time.Duration
	workers         int
	showBrowser     bool
	minResolution   string
	maxResolution   string
	downloadTimeout time.Duration
	metricsAddr     string
	noReport        bool
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape [keys...]",
	Short: "Download images for one or more search keys",
	Long: `Download images for each search key into <output>/<key>/.

Keys given as arguments replace the keys from the configuration file or the
IMGSCRAPER_SEARCH_KEYS environment variable. Files are named <key>_001.jpg,
<key>_002.png and so on, continuing after any files already in the directory.`,
	Example: `  # Scrape two keys with the default Google Images template
  imgscraper scrape "red brick" "blue tile"

  # Fifty images per key, four browsers at once
  imgscraper scrape cats dogs --images 50 --workers 4

  # Only keep images between 400x300 and 1920x1080
  imgscraper scrape sunsets --min-resolution 400x300 --max-resolution 1920x1080

  # Expose Prometheus metrics while scraping
  imgscraper scrape cats --metrics-addr :9090`,
	Args: cobra.ArbitraryArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output root directory")
	scrapeCmd.Flags().StringVar(&urlTemplate, "url-template", "", "search page URL containing "+config.SearchKeyPlaceholder)
	scrapeCmd.Flags().IntVarP(&imagesPerKey, "images", "n", 0, "images to save per key")
	scrapeCmd.Flags().IntVar(&maxMissed, "max-missed", 0, "consecutive misses before a key gives up")
	scrapeCmd.Flags().IntVar(&maxScrolls, "max-scrolls", 0, "scroll cycles per key")
	scrapeCmd.Flags().DurationVar(&scrollDelay, "scroll-delay", 0, "wait after each scroll for content to load")
	scrapeCmd.Flags().IntVarP(&workers, "workers", "w", 0, "keys scraped concurrently")
	scrapeCmd.Flags().BoolVar(&showBrowser, "show-browser", false, "run Chrome with a visible window")
	scrapeCmd.Flags().StringVar(&minResolution, "min-resolution", "", "smallest accepted image, WIDTHxHEIGHT")
	scrapeCmd.Flags().StringVar(&maxResolution, "max-resolution", "", "largest accepted image, WIDTHxHEIGHT")
	scrapeCmd.Flags().DurationVar(&downloadTimeout, "download-timeout", 0, "timeout for a single image request")
	scrapeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	scrapeCmd.Flags().BoolVar(&noReport, "no-report", false, "do not write "+report.FileName)
}

// buildFlags collects the flags the user actually set
func buildFlags(cmd *cobra.Command) (map[string]interface{}, error) {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed

	if outputDir != "" {
		flags["output"] = outputDir
	}
	if urlTemplate != "" {
		flags["url-template"] = urlTemplate
	}
	if changed("images") {
		flags["images"] = imagesPerKey
	}
	if changed("max-missed") {
		flags["max-missed"] = maxMissed
	}
	if changed("max-scrolls") {
		flags["max-scrolls"] = maxScrolls
	}
	if changed("scroll-delay") {
		flags["scroll-delay"] = scrollDelay
	}
	if changed("workers") {
		flags["workers"] = workers
	}
	if changed("show-browser") {
		flags["headless"] = !showBrowser
	}
	if changed("download-timeout") {
		flags["download-timeout"] = downloadTimeout
	}
	if minResolution != "" {
		dims, err := config.ParseDimensions(minResolution)
		if err != nil {
			return nil, fmt.Errorf("--min-resolution: %w", err)
		}
		flags["min-resolution"] = dims
	}
	if maxResolution != "" {
		dims, err := config.ParseDimensions(maxResolution)
		if err != nil {
			return nil, fmt.Errorf("--max-resolution: %w", err)
		}
		flags["max-resolution"] = dims
	}
	if logLevel != "" {
		flags["log-level"] = logLevel
	}
	if metricsAddr != "" {
		flags["metrics-addr"] = metricsAddr
	}
	return flags, nil
}

// keysFromArgs trims arguments and drops empty ones
func keysFromArgs(args []string) []searchkey.Key {
	var keys []searchkey.Key
	for _, a := range args {
		if a = strings.TrimSpace(a); a != "" {
			keys = append(keys, searchkey.Key(a))
		}
	}
	return keys
}

func runScrape(cmd *cobra.Command, args []string) error {
	flags, err := buildFlags(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if noReport {
		cfg.Output.WriteReport = false
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log.WithField("version", version).Info("imgscraper starting")

	keys := keysFromArgs(args)
	ui.PrintBanner()
	ui.PrintInfo("Output", cfg.Output.RootDirectory)
	ui.PrintInfo("Images per key", fmt.Sprintf("%d", cfg.Search.ImagesPerKey))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		m  *metrics.Metrics
		ln net.Listener
	)
	if cfg.Metrics.Enabled {
		ln, err = listenMetrics(cfg.Metrics.ListenAddr)
		if err != nil {
			log.WithError(err).Error("Metrics server could not start")
			return err
		}
		m = metrics.New()
		ui.PrintInfo("Metrics", "http://"+displayAddr(cfg.Metrics.ListenAddr)+"/metrics")
	}
	orch := orchestrator.New(cfg, log, orchestrator.WithMetrics(m))

	result, err, serverErr := runAlongside(ctx, func(ctx context.Context) (*orchestrator.Result, error) {
		return orch.Run(ctx, keys)
	}, ln, m)
	if serverErr != nil {
		log.WithError(serverErr).Warn("Metrics server stopped")
		ui.PrintWarning("Metrics server stopped", serverErr)
	}
	if err != nil {
		log.WithError(err).Error("Scrape run failed")
		return err
	}

	if ctx.Err() != nil {
		ui.PrintWarning("Interrupted, partial results follow")
	}
	ui.PrintSummary(result.Outcomes, cfg.Search.ImagesPerKey)

	if cfg.Output.WriteReport {
		path, err := report.New(result.Outcomes, result.Started, result.Finished, cfg.Output.RootDirectory).
			Write(cfg.Output.RootDirectory)
		if err != nil {
			log.WithError(err).Warn("Failed to write run report")
			ui.PrintWarning("Failed to write run report", err)
		} else {
			ui.PrintInfo("Report", path)
		}
	}

	failed := len(result.Failed())
	if failed > 0 && failed == len(result.Outcomes) {
		return fmt.Errorf("all %d search keys failed", failed)
	}
	return nil
}

// listenMetrics binds the metrics address before any key starts, so a
// taken port fails the command instead of surfacing mid-run
func listenMetrics(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	return ln, nil
}

// runAlongside runs scrape on ctx while serving metrics on ln. The server
// shares the errgroup but not the scrape's context: a server failure is
// returned as serverErr and never cancels a key.
func runAlongside(ctx context.Context, scrape func(context.Context) (*orchestrator.Result, error),
	ln net.Listener, m *metrics.Metrics) (result *orchestrator.Result, err, serverErr error) {
	var g errgroup.Group
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		result, err = scrape(ctx)
		return nil
	})

	if ln != nil {
		srv := newMetricsServer(m)
		g.Go(func() error {
			defer stopServer()
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-serverCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	serverErr = g.Wait()
	return result, err, serverErr
}

func newMetricsServer(m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
