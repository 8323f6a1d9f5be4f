package monitor

import (
	"encoding/json"

	"github.com/sirupsen/logrus"

	"table-monitor/internal/models"
)

// SinkFunc adapts a plain callback to a Sink
type SinkFunc func(event *models.ChangeEvent) error

// Publish calls f(event)
func (f SinkFunc) Publish(event *models.ChangeEvent) error {
	return f(event)
}

// LogSink writes every event to the log, one structured line per event
type LogSink struct {
	logger *logrus.Logger
}

// NewLogSink creates a sink logging at info level
func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the event
func (s *LogSink) Publish(event *models.ChangeEvent) error {
	entry := s.logger.WithFields(logrus.Fields{
		"table": event.Table,
		"type":  event.Type,
	})
	switch event.Type {
	case models.Update:
		entry.WithFields(logrus.Fields{
			"record":   event.RecordID,
			"field":    event.FieldName,
			"previous": event.PreviousValue,
			"new":      event.NewValue,
		}).Info("Field changed")
	default:
		ids := make([]string, len(event.Records))
		for i, rec := range event.Records {
			ids[i] = rec.ID
		}
		entry.WithField("records", ids).Infof("%d records %sd", len(ids), event.Type)
	}
	return nil
}

// PublishLegacy logs the flattened form as JSON
func (s *LogSink) PublishLegacy(event *models.LegacyEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.logger.WithField("table", event.TableName).Debugf("Legacy event: %s", data)
	return nil
}
