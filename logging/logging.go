// Package logging configures the structured logger used by the engine. The
// engine logs through the *logrus.Logger passed to engine.New and held in
// Engine.Logger; the cast, resultbuilder and tracing packages log through
// logrus's standard logger.
package logging

import (
	log "github.com/sirupsen/logrus"
)

// ConfigureLogrusJSON sets the logger to emit JSON logs with a GCP severity
// field, so a flora-engine process can sit behind the same log pipeline as
// any other JSON-structured service without a bespoke encoder.
func ConfigureLogrusJSON(logger *log.Logger) {
	if logger == nil {
		return
	}

	logger.SetFormatter(&log.JSONFormatter{})
	logger.AddHook(GCPSeverityHook{})
}

// GCPSeverityHook adds a GCP-compatible severity field to log entries.
type GCPSeverityHook struct{}

func (GCPSeverityHook) Levels() []log.Level {
	return log.AllLevels
}

func (GCPSeverityHook) Fire(entry *log.Entry) error {
	if entry == nil {
		return nil
	}
	if _, ok := entry.Data["severity"]; ok {
		return nil
	}

	entry.Data["severity"] = severityForLevel(entry.Level)
	return nil
}

func severityForLevel(level log.Level) string {
	switch level {
	case log.PanicLevel:
		return "EMERGENCY"
	case log.FatalLevel:
		return "CRITICAL"
	case log.ErrorLevel:
		return "ERROR"
	case log.WarnLevel:
		return "WARNING"
	case log.InfoLevel:
		return "INFO"
	case log.DebugLevel, log.TraceLevel:
		return "DEBUG"
	default:
		return "DEFAULT"
	}
}
