package scraper

import (
	"context"
	"errors"
	"time"

	"imgscraper/pkg/acceptor"
	"imgscraper/pkg/browser"
	"imgscraper/pkg/config"
	errs "imgscraper/pkg/errors"
	"imgscraper/pkg/logger"
	"imgscraper/pkg/metrics"
	"imgscraper/pkg/retry"
	"imgscraper/pkg/scanner"
	"imgscraper/pkg/searchkey"
)

// Dependencies are the collaborators a KeyScraper drives
type Dependencies struct {
	Launcher   browser.Launcher
	Downloader Downloader
	Stores     StoreProvider
	Metrics    *metrics.Metrics // optional
	Logger     logger.Logger    // optional
}

// KeyScraper runs one search key from navigation to stop condition
type KeyScraper struct {
	urlTemplate string
	quota       int
	maxMissed   int
	maxScrolls  int
	settleDelay time.Duration
	acceptor    *acceptor.Acceptor

	launcher   browser.Launcher
	downloader Downloader
	stores     StoreProvider
	metrics    *metrics.Metrics
	logger     logger.Logger
}

// New creates a KeyScraper from validated configuration
func New(cfg *config.Config, deps Dependencies) *KeyScraper {
	log := deps.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &KeyScraper{
		urlTemplate: cfg.Search.URLTemplate,
		quota:       cfg.Search.ImagesPerKey,
		maxMissed:   cfg.Search.MaxMissed,
		maxScrolls:  cfg.Search.MaxScrolls,
		settleDelay: cfg.Search.ScrollSettleDelay,
		acceptor:    acceptor.New(acceptor.BoundsFromConfig(cfg.Resolution)),
		launcher:    deps.Launcher,
		downloader:  deps.Downloader,
		stores:      deps.Stores,
		metrics:     deps.Metrics,
		logger:      log,
	}
}

// Run scrapes images for key until a stop condition is met. It never
// returns an error: per-key failures are recorded in the Outcome.
func (s *KeyScraper) Run(ctx context.Context, key searchkey.Key) (out Outcome) {
	start := time.Now()
	out = Outcome{Key: key}
	log := s.logger.WithField("search_key", string(key))

	s.metrics.JobStarted()
	log.InfoWithFields("Starting key scrape", map[string]interface{}{
		"quota":       s.quota,
		"max_missed":  s.maxMissed,
		"max_scrolls": s.maxScrolls,
	})

	defer func() {
		out.Duration = time.Since(start)
		s.metrics.JobFinished(string(out.Reason))

		fields := map[string]interface{}{
			"reason":   string(out.Reason),
			"saved":    out.SavedCount,
			"missed":   out.MissedCount,
			"scrolls":  out.ScrollCycles,
			"duration": out.Duration,
		}
		if out.Err != nil {
			log.WithError(out.Err).ErrorWithFields("Key scrape failed", fields)
			return
		}
		log.InfoWithFields("Key scrape finished", fields)
	}()

	store, err := s.stores(key)
	if err != nil {
		return s.stop(ctx, out, err)
	}

	session, err := s.launcher.Launch(ctx)
	if err != nil {
		return s.stop(ctx, out, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to close browser session")
		}
	}()

	searchURL := searchkey.BuildURL(s.urlTemplate, key)
	log.DebugWithFields("Navigating to search page", map[string]interface{}{
		"url": searchURL,
	})
	if err := session.Navigate(ctx, searchURL); err != nil {
		return s.stop(ctx, out, err)
	}

	state := &JobState{}
	reason, err := s.scrollLoop(ctx, log, key, session, store, state, &out)

	out.SavedCount = state.SavedCount
	out.MissedCount = state.MissedCount
	out.ScrollCycles = state.ScrollIndex
	if err != nil {
		return s.stop(ctx, out, err)
	}
	out.Reason = reason
	return out
}

// stop records err as the job's terminal error, distinguishing caller
// cancellation from per-key failures
func (s *KeyScraper) stop(ctx context.Context, out Outcome, err error) Outcome {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		out.Reason = ReasonCancelled
		out.Err = nil
		return out
	}
	out.Reason = ReasonFailed
	out.Err = err
	return out
}

// scrollLoop runs scroll cycles until a stop condition. A non-nil error
// is fatal to the job.
func (s *KeyScraper) scrollLoop(ctx context.Context, log logger.Logger, key searchkey.Key, session browser.Session,
	store ImageStore, state *JobState, out *Outcome) (StopReason, error) {
	seen := scanner.NewSeenSet()

	for state.ScrollIndex < s.maxScrolls {
		state.ScrollIndex++

		if err := session.ScrollToBottom(ctx); err != nil {
			return ReasonFailed, err
		}
		s.metrics.IncScrolls()

		if err := retry.Wait(ctx, s.settleDelay); err != nil {
			return ReasonCancelled, err
		}

		html, err := session.HTML(ctx)
		if err != nil {
			return ReasonFailed, err
		}
		pageURL, err := session.CurrentURL(ctx)
		if err != nil {
			return ReasonFailed, err
		}

		urls, err := scanner.Scan(html, pageURL, seen)
		if err != nil {
			return ReasonFailed, errs.Wrap(errs.ErrorTypeSession, "failed to scan page", err)
		}

		log.DebugWithFields("Scroll cycle scanned", map[string]interface{}{
			"scroll":     state.ScrollIndex,
			"candidates": len(urls),
			"seen":       len(seen),
		})

		if len(urls) == 0 {
			return ReasonNoMoreContent, nil
		}
		seen.Merge(urls)

		for _, u := range urls {
			if ctx.Err() != nil {
				return ReasonCancelled, ctx.Err()
			}
			if state.SavedCount == s.quota {
				return ReasonQuotaReached, nil
			}

			path, err := s.fetchAndSave(ctx, store, u)
			if err != nil {
				if ctx.Err() != nil {
					return ReasonCancelled, ctx.Err()
				}
				state.ConsecutiveMissCount++
				state.MissedCount++
				reason := acceptor.Reason(err)
				s.metrics.IncMiss(reason)
				logger.LogMiss(log, string(key), u, reason, state.ConsecutiveMissCount, err)

				if state.ConsecutiveMissCount == s.maxMissed {
					return ReasonMissedThreshold, nil
				}
				continue
			}

			state.SavedCount++
			state.FileCounter++
			state.ConsecutiveMissCount = 0
			out.Files = append(out.Files, path)
			s.metrics.IncSaved()
			logger.LogScrapeProgress(log, string(key), state.SavedCount, s.quota)
		}

		if state.SavedCount == s.quota {
			return ReasonQuotaReached, nil
		}
	}

	return ReasonScrollBudgetExhausted, nil
}

// fetchAndSave downloads u, runs it through the acceptor and persists it.
// Every error it returns is a miss.
func (s *KeyScraper) fetchAndSave(ctx context.Context, store ImageStore, u string) (string, error) {
	resp, err := s.downloader.Fetch(ctx, u)
	if err != nil {
		return "", err
	}

	img, err := s.acceptor.Evaluate(resp.StatusCode, resp.ContentType, resp.Body)
	if err != nil {
		return "", err
	}

	return store.SaveImage(img)
}
