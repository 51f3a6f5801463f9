package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type LogLevel string

const (
	LevelError LogLevel = "ERROR"
	LevelWarn  LogLevel = "WARN"
	LevelInfo  LogLevel = "INFO"
	LevelDebug LogLevel = "DEBUG"
)

// ParseLogLevel upper-cases s and rejects anything outside ERROR, WARN, INFO, DEBUG.
func ParseLogLevel(s string) (LogLevel, error) {
	switch l := LogLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		return l, nil
	}
	return "", fmt.Errorf("invalid log level %q", s)
}

type LogEvent struct {
	EventID       string         `json:"event_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Message       string         `json:"message"`
	LogStream     string         `json:"log_stream"`
	Level         LogLevel       `json:"level,omitempty"`
	IngestionTime *time.Time     `json:"ingestion_time,omitempty"`
	Metadata      map[string]any `json:"metadata"`
}

const (
	DefaultMaxEvents = 1000
	MaxMaxEvents     = 10000
	MaxPageSize      = 1000
)

var (
	ErrMissingLogGroup   = errors.New("log_group is required")
	ErrInvertedTimeRange = errors.New("start_time must be before end_time")
	ErrMaxEventsRange    = fmt.Errorf("max_events must be between 1 and %d", MaxMaxEvents)
)

// FilterCriteria must be validated before use; Validate compiles the regex
// and normalizes levels.
type FilterCriteria struct {
	LogGroup           string
	LogStreams         []string
	StartTime          *time.Time
	EndTime            *time.Time
	TextPattern        string
	RegexPattern       string
	CompoundExpression string
	FilterPattern      string
	LogLevels          []LogLevel
	MaxEvents          int
	NextToken          string

	regex *regexp.Regexp
}

func (c *FilterCriteria) Validate() error {
	c.LogGroup = strings.TrimSpace(c.LogGroup)
	if c.LogGroup == "" {
		return ErrMissingLogGroup
	}
	if c.StartTime != nil && c.EndTime != nil && !c.StartTime.Before(*c.EndTime) {
		return ErrInvertedTimeRange
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = DefaultMaxEvents
	}
	if c.MaxEvents < 1 || c.MaxEvents > MaxMaxEvents {
		return ErrMaxEventsRange
	}
	if c.RegexPattern != "" {
		re, err := regexp.Compile("(?i)" + c.RegexPattern)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		c.regex = re
	}
	levels := make([]LogLevel, 0, len(c.LogLevels))
	for _, l := range c.LogLevels {
		parsed, err := ParseLogLevel(string(l))
		if err != nil {
			return err
		}
		levels = append(levels, parsed)
	}
	c.LogLevels = levels
	return nil
}

// Regex returns the compiled case-insensitive regex, or nil.
func (c *FilterCriteria) Regex() *regexp.Regexp {
	return c.regex
}

// PageSize is the per-call event limit for the backend.
func (c *FilterCriteria) PageSize() int {
	return min(c.MaxEvents, MaxPageSize)
}

// NeedsLocalMatching reports whether any criterion has no backend-side equivalent.
func (c *FilterCriteria) NeedsLocalMatching() bool {
	return c.regex != nil || len(c.LogLevels) > 0
}

type QueryResults struct {
	Events            []LogEvent
	QueryID           string
	ExecutionTimeMS   int64
	StartTime         *time.Time
	EndTime           *time.Time
	LogGroup          string
	LogStreamsQueried []string
	NextToken         string
	HasMore           bool
	EventsScanned     int
	EventsMatched     int
	APICallsMade      int
	Errors            []string
	Warnings          []string
}

func (r *QueryResults) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *QueryResults) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *QueryResults) TotalEvents() int {
	return len(r.Events)
}

func (r *QueryResults) MarshalJSON() ([]byte, error) {
	events := r.Events
	if events == nil {
		events = []LogEvent{}
	}
	return json.Marshal(map[string]any{
		"events": events,
		"query_metadata": map[string]any{
			"query_id":          r.QueryID,
			"execution_time_ms": r.ExecutionTimeMS,
			"total_events":      r.TotalEvents(),
			"has_more":          r.HasMore,
			"next_token":        nullable(r.NextToken),
		},
		"source_information": map[string]any{
			"log_group":           r.LogGroup,
			"log_streams_queried": nonNil(r.LogStreamsQueried),
			"start_time":          r.StartTime,
			"end_time":            r.EndTime,
		},
		"statistics": map[string]any{
			"events_scanned": r.EventsScanned,
			"events_matched": r.EventsMatched,
			"api_calls_made": r.APICallsMade,
		},
		"issues": map[string]any{
			"errors":   nonNil(r.Errors),
			"warnings": nonNil(r.Warnings),
		},
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ParseJSONObject returns s decoded as a JSON object, or an empty map when s
// is not one.
func ParseJSONObject(s string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

// RawLogEvent is an event as returned by the log backend.
type RawLogEvent struct {
	EventID       string
	LogStreamName string
	Message       string
	Timestamp     int64
	IngestionTime int64
}
