// Package scraper implements the per-key scraping state machine.
//
// A KeyScraper owns one browser session, one seen-URL set and one JobState
// for the duration of Run:
//
//	Starting -> Scrolling -> Downloading -> (Saved | Missed) -> Scrolling | Stopped
//
// Each scroll cycle scrolls the rendered search page to the bottom, waits for
// lazy content to settle, scans the page for image URLs not seen before and
// tries every new candidate in document order. Any per-URL failure (network,
// status, content type, decode, resolution, write) is a miss. The job stops
// when the quota is met, when the consecutive miss threshold is hit, when a
// scroll produces no new candidates or when the scroll budget runs out.
//
// Failures to prepare the output directory or to drive the browser end only
// that key's job; they are reported in the Outcome, never returned.
//
// Usage:
//
//	ks := scraper.New(cfg, scraper.Dependencies{
//		Launcher:   browser.NewChromeLauncher(browser.OptionsFromConfig(cfg.Browser), log),
//		Downloader: download.NewClient(cfg.Download, log),
//		Stores:     scraper.RegistryStores(storage.NewRegistry(cfg.Output.RootDirectory, cfg.Output.JPEGQuality)),
//		Logger:     log,
//	})
//	outcome := ks.Run(ctx, "red panda")
package scraper
