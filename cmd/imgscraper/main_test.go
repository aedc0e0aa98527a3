package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgscraper/pkg/config"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/orchestrator"
	"imgscraper/pkg/searchkey"
	"imgscraper/pkg/ui"
)

func TestBuildFlagsOnlyChanged(t *testing.T) {
	require.NoError(t, scrapeCmd.ParseFlags([]string{
		"--images", "5",
		"--workers", "3",
		"--show-browser",
		"--scroll-delay", "250ms",
		"--min-resolution", "10x20",
	}))

	flags, err := buildFlags(scrapeCmd)
	require.NoError(t, err)

	assert.Equal(t, 5, flags["images"])
	assert.Equal(t, 3, flags["workers"])
	assert.Equal(t, false, flags["headless"])
	assert.Equal(t, 250*time.Millisecond, flags["scroll-delay"])
	assert.Equal(t, config.Dimensions{Width: 10, Height: 20}, flags["min-resolution"])
	assert.NotContains(t, flags, "max-missed")
	assert.NotContains(t, flags, "max-resolution")

	cfg := config.DefaultConfig()
	cfg.MergeCommandLineFlags(flags)
	assert.Equal(t, 5, cfg.Search.ImagesPerKey)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 10, cfg.Resolution.Min.Width)
	assert.Equal(t, 10, cfg.Search.MaxMissed)
}

func TestKeysFromArgs(t *testing.T) {
	keys := keysFromArgs([]string{" red brick ", "", "  ", "tile"})
	assert.Equal(t, []searchkey.Key{"red brick", "tile"}, keys)
	assert.Nil(t, keysFromArgs(nil))
}

func TestExampleConfigIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "imgscraper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(exampleConfig), 0644))

	cfg := config.DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"red brick"}, cfg.Search.Keys)
	assert.Equal(t, 2*time.Second, cfg.Search.ScrollSettleDelay)
	assert.Equal(t, 500*time.Millisecond, cfg.Download.RetryDelay)
	assert.Equal(t, config.DefaultConfig().Resolution, cfg.Resolution)
}

func TestCheckEnvironment(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Output.RootDirectory = filepath.Join(t.TempDir(), "out")

	problems, warnings := checkEnvironment(cfg)
	assert.Empty(t, problems)
	assert.Len(t, warnings, 1)

	cfg.Search.Keys = []string{"cats"}
	cfg.Browser.ExecPath = filepath.Join(t.TempDir(), "no-chrome")
	problems, warnings = checkEnvironment(cfg)
	assert.Len(t, problems, 1)
	assert.Empty(t, warnings)
}

func TestListenMetricsAddressTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	_, err = listenMetrics(taken.Addr().String())
	assert.ErrorContains(t, err, "metrics server")
}

func TestRunScrapeFailsFastWhenMetricsPortTaken(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	var buf bytes.Buffer
	prev := ui.SetOutput(&buf)
	defer ui.SetOutput(prev)

	metricsAddr = taken.Addr().String()
	outputDir = filepath.Join(dir, "out")
	logLevel = "error"
	defer func() { metricsAddr, outputDir, logLevel = "", "", "" }()

	scrapeCmd.SetContext(context.Background())
	err = runScrape(scrapeCmd, []string{"cats"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server")

	_, statErr := os.Stat(filepath.Join(dir, "out", "cats"))
	assert.True(t, os.IsNotExist(statErr), "no key should have started")
}

func TestRunAlongsideServerFailureDoesNotCancelScrape(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	want := &orchestrator.Result{}
	result, runErr, serverErr := runAlongside(context.Background(), func(ctx context.Context) (*orchestrator.Result, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return want, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, ln, metrics.New())

	assert.NoError(t, runErr)
	assert.Same(t, want, result)
	assert.ErrorContains(t, serverErr, "metrics server")
}

func TestRunAlongsideServesMetricsUntilScrapeEnds(t *testing.T) {
	ln, err := listenMetrics("127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String() + "/metrics"

	m := metrics.New()
	m.IncSaved()

	var body string
	result, runErr, serverErr := runAlongside(context.Background(), func(ctx context.Context) (*orchestrator.Result, error) {
		resp, err := http.Get(url)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		body = string(data)
		return &orchestrator.Result{}, err
	}, ln, m)

	require.NoError(t, runErr)
	require.NoError(t, serverErr)
	require.NotNil(t, result)
	assert.Contains(t, body, "imgscraper_images_saved_total")

	_, err = http.Get(url)
	assert.Error(t, err, "server is shut down once the scrape returns")
}

func TestRunAlongsideWithoutMetrics(t *testing.T) {
	result, runErr, serverErr := runAlongside(context.Background(), func(ctx context.Context) (*orchestrator.Result, error) {
		return &orchestrator.Result{}, nil
	}, nil, nil)
	assert.NotNil(t, result)
	assert.NoError(t, runErr)
	assert.NoError(t, serverErr)
}
