//go:build !windows

package audit

import (
	"encoding/json"
	"fmt"
	"log/syslog"
	"time"

	"github.com/google/uuid"
)

// SyslogLogger forwards audit events to the local syslog daemon. Query is
// not available on this backend; the daemon owns retention and search.
type SyslogLogger struct {
	writer *syslog.Writer
}

type SyslogOptions struct {
	Tag string `json:"tag"`
}

// NewSyslogLogger creates a syslog-backed audit logger.
func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	var opts SyslogOptions
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}
	if opts.Tag == "" {
		opts.Tag = "anonchat-audit"
	}

	writer, err := syslog.New(syslog.LOG_AUTH|syslog.LOG_INFO, opts.Tag)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}
	return &SyslogLogger{writer: writer}, nil
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Action:    action,
		Success:   success,
		Metadata:  metadata,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize audit event: %w", err)
	}

	if success {
		return s.writer.Info(string(line))
	}
	return s.writer.Warning(string(line))
}

func (s *SyslogLogger) Query(QueryOptions) (QueryResult, error) {
	return QueryResult{}, fmt.Errorf("query is not supported by the syslog audit backend")
}

func (s *SyslogLogger) Close() error {
	return s.writer.Close()
}
