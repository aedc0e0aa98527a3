package browser

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgscraper/pkg/config"
	"imgscraper/pkg/logger"
)

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.BrowserConfig{
		Headless:          false,
		ExecPath:          "/usr/bin/chromium",
		UserAgent:         "ua",
		NavigationTimeout: 5 * time.Second,
	})

	assert.Equal(t, Options{
		Headless:          false,
		ExecPath:          "/usr/bin/chromium",
		UserAgent:         "ua",
		NavigationTimeout: 5 * time.Second,
	}, opts)
}

func TestAllocatorOptions(t *testing.T) {
	base := allocatorOptions(Options{Headless: true})
	withPath := allocatorOptions(Options{Headless: true, ExecPath: "/opt/chrome", UserAgent: "ua"})

	assert.Len(t, withPath, len(base)+2)
	assert.Greater(t, len(base), 0)
}

// TestChromeSession runs against a real browser and is skipped unless
// IMGSCRAPER_BROWSER_TESTS is set.
func TestChromeSession(t *testing.T) {
	if os.Getenv("IMGSCRAPER_BROWSER_TESTS") == "" {
		t.Skip("set IMGSCRAPER_BROWSER_TESTS=1 to run browser tests")
	}

	launcher := NewChromeLauncher(Options{Headless: true, NavigationTimeout: 20 * time.Second}, logger.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	session, err := launcher.Launch(ctx)
	require.NoError(t, err)
	defer session.Close()

	page := "data:text/html,<html><body><img src='https://example.com/a.png'></body></html>"
	require.NoError(t, session.Navigate(ctx, page))
	require.NoError(t, session.ScrollToBottom(ctx))

	html, err := session.HTML(ctx)
	require.NoError(t, err)
	assert.True(t, strings.Contains(html, "https://example.com/a.png"))

	location, err := session.CurrentURL(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(location, "data:"))

	assert.NoError(t, session.Close())
	assert.NoError(t, session.Close())
}
