package logger

// LogComponentStart logs when a component starts
func LogComponentStart(log Logger, component string, config map[string]interface{}) {
	l := log.WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// LogComponentStop logs when a component stops
func LogComponentStop(log Logger, component string, reason string) {
	log.WithFields(map[string]interface{}{
		"component": component,
		"reason":    reason,
	}).Info("Component stopped")
}

// LogMiss logs a rejected or failed image candidate
func LogMiss(log Logger, key, url, reason string, consecutive int, err error) {
	fields := map[string]interface{}{
		"search_key":  key,
		"url":         url,
		"reason":      reason,
		"consecutive": consecutive,
	}
	if err != nil {
		log.WithError(err).DebugWithFields("Image candidate missed", fields)
		return
	}
	log.DebugWithFields("Image candidate missed", fields)
}

// LogScrapeProgress logs per-key progress towards the image quota
func LogScrapeProgress(log Logger, key string, saved, quota int) {
	percentage := 0.0
	if quota > 0 {
		percentage = float64(saved) / float64(quota) * 100
	}

	log.DebugWithFields("Scraping progress", map[string]interface{}{
		"search_key": key,
		"saved":      saved,
		"quota":      quota,
		"percentage": percentage,
	})
}

// NewNopLogger creates a no-operation logger for testing
func NewNopLogger() Logger {
	return &nopLogger{}
}

// nopLogger is a logger that does nothing (useful for testing)
type nopLogger struct{}

func (n *nopLogger) Debug(msg string)                                          {}
func (n *nopLogger) Info(msg string)                                           {}
func (n *nopLogger) Warn(msg string)                                           {}
func (n *nopLogger) Error(msg string)                                          {}
func (n *nopLogger) WithField(key string, value interface{}) Logger            { return n }
func (n *nopLogger) WithFields(fields map[string]interface{}) Logger           { return n }
func (n *nopLogger) WithError(err error) Logger                                { return n }
func (n *nopLogger) DebugWithFields(msg string, fields map[string]interface{}) {}
func (n *nopLogger) InfoWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) WarnWithFields(msg string, fields map[string]interface{})  {}
func (n *nopLogger) ErrorWithFields(msg string, fields map[string]interface{}) {}
