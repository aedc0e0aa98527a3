// Package browser drives the headless browser that renders search result pages.
//
// The scraper depends only on the Session and Launcher interfaces; Chrome
// (through chromedp) is the production implementation.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"imgscraper/pkg/config"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
)

const scrollScript = `window.scrollTo(0, document.body.scrollHeight);`

// Session is one browser instance owned by a single key job
type Session interface {
	// Navigate loads url and waits for the page to be ready
	Navigate(ctx context.Context, url string) error
	// ScrollToBottom scrolls the page to its current bottom
	ScrollToBottom(ctx context.Context) error
	// HTML returns the rendered document markup
	HTML(ctx context.Context) (string, error)
	// CurrentURL returns the URL of the loaded document
	CurrentURL(ctx context.Context) (string, error)
	// Close releases the browser, it is safe to call more than once
	Close() error
}

// Launcher starts browser sessions
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Options control how the browser is started
type Options struct {
	Headless          bool
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
}

// OptionsFromConfig converts browser configuration to launch options
func OptionsFromConfig(cfg config.BrowserConfig) Options {
	return Options{
		Headless:          cfg.Headless,
		ExecPath:          cfg.ExecPath,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.NavigationTimeout,
	}
}

// ChromeLauncher launches Chrome through chromedp
type ChromeLauncher struct {
	opts   Options
	logger logger.Logger
}

// NewChromeLauncher creates a launcher with the given options
func NewChromeLauncher(opts Options, log logger.Logger) *ChromeLauncher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ChromeLauncher{opts: opts, logger: log.WithField("component", "browser")}
}

// allocatorOptions builds the exec allocator flags for opts
func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	return allocOpts
}

// Launch starts a new browser process and opens a blank tab. The browser
// is torn down when ctx is cancelled or the session is closed.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocatorOptions(l.opts)...)

	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...interface{}) {
		l.logger.DebugWithFields("chromedp", map[string]interface{}{
			"detail": fmt.Sprintf(format, args...),
		})
	}))

	// the first Run starts the browser
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, errs.Wrap(errs.ErrorTypeSession, "failed to start browser", err)
	}

	l.logger.DebugWithFields("browser started", map[string]interface{}{
		"headless": l.opts.Headless,
	})

	return &chromeSession{
		ctx:               tabCtx,
		cancelTab:         tabCancel,
		cancelAlloc:       allocCancel,
		navigationTimeout: l.opts.NavigationTimeout,
	}, nil
}

type chromeSession struct {
	ctx               context.Context
	cancelTab         context.CancelFunc
	cancelAlloc       context.CancelFunc
	navigationTimeout time.Duration
	closeOnce         sync.Once
	closeErr          error
}

// run executes actions on the tab, aborting early if ctx is done
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if timeout > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, timeout)
		defer cancelTimeout()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, s.navigationTimeout, chromedp.Navigate(url)); err != nil {
		return errs.Wrap(errs.ErrorTypeSession, "navigation failed", err)
	}
	return nil
}

func (s *chromeSession) ScrollToBottom(ctx context.Context) error {
	if err := s.run(ctx, 0, chromedp.Evaluate(scrollScript, nil)); err != nil {
		return errs.Wrap(errs.ErrorTypeSession, "scroll failed", err)
	}
	return nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, 0, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", errs.Wrap(errs.ErrorTypeSession, "failed to capture page html", err)
	}
	return html, nil
}

func (s *chromeSession) CurrentURL(ctx context.Context) (string, error) {
	var location string
	if err := s.run(ctx, 0, chromedp.Location(&location)); err != nil {
		return "", errs.Wrap(errs.ErrorTypeSession, "failed to read page url", err)
	}
	return location, nil
}

func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		if err := chromedp.Cancel(s.ctx); err != nil && s.ctx.Err() == nil {
			s.closeErr = errs.Wrap(errs.ErrorTypeSession, "failed to close browser", err)
		}
		s.cancelTab()
		s.cancelAlloc()
	})
	return s.closeErr
}
