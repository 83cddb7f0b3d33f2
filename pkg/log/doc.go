// Package log provides structured logging for beacon components.
//
// Loggers are constructed explicitly and passed by dependency injection;
// there is no package-level default. A Logger routes entries through a
// Formatter (text or JSON) to one or more Outputs.
//
//	logger := log.NewLogger(
//		log.WithLevel(log.InfoLevel),
//		log.WithFormatter(&log.TextFormatter{}),
//		log.WithOutput(log.NewConsoleOutput()),
//	)
//	logger.Info("flush complete", log.Int("batch", n), log.Dur("took", d))
//
// RedirectStdLog captures the standard library logger (used by Pebble) so
// storage-engine output shares the process format. NewSlogHandler adapts a
// Logger into a slog.Handler for libraries that speak log/slog.
package log
