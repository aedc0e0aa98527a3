// Package logger provides the structured logging interface used across imgscraper.
//
// It wraps zerolog with a small field-oriented API:
// - Multiple log levels (Debug, Info, Warn, Error)
// - Structured logging with fields
// - Console output, colored when attached to a terminal
// - Rotating file output via lumberjack
//
// There is no package level logger. Build one with New and hand it to the
// components that log:
//
//	log, err := logger.New(&cfg.Logging)
//	if err != nil {
//	    return err
//	}
//	orch := orchestrator.New(cfg, log, ...)
//
//	log.WithField("search_key", "brick").Info("Scrape started")
//	log.InfoWithFields("Image saved", map[string]interface{}{
//	    "file": "brick_001.jpg",
//	    "width": 640,
//	})
//
// Tests can use NewNopLogger or NewTestLogger, which records every message.
package logger
