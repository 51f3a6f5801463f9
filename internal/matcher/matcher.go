package matcher

import (
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/pkiaudit/vaultmcp/internal/expr"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

const (
	// MaxMetadataSize bounds the messages parsed into event metadata.
	MaxMetadataSize = 2000
	// MaxExpressionSize bounds the messages handed to the expression evaluator.
	MaxExpressionSize = 5000
)

type LevelRule struct {
	Level   models.LogLevel
	Pattern *regexp.Regexp
}

// DefaultLevelRules are checked in order; the first hit wins.
func DefaultLevelRules() []*LevelRule {
	return []*LevelRule{
		{
			Level:   models.LevelError,
			Pattern: regexp.MustCompile(`\b(?:ERROR|error|Error|\[ERROR\]|\[error\])\b`),
		},
		{
			Level:   models.LevelWarn,
			Pattern: regexp.MustCompile(`\b(?:WARN|warn|Warn|WARNING|warning|Warning|\[WARN\]|\[warn\])\b`),
		},
		{
			Level:   models.LevelInfo,
			Pattern: regexp.MustCompile(`\b(?:INFO|info|Info|\[INFO\]|\[info\])\b`),
		},
		{
			Level:   models.LevelDebug,
			Pattern: regexp.MustCompile(`\b(?:DEBUG|debug|Debug|\[DEBUG\]|\[debug\])\b`),
		},
	}
}

var defaultLevels = DefaultLevelRules()

// Stats is owned by the caller and accumulates across Match calls.
type Stats struct {
	Evaluated         int
	TextMatches       int
	LevelMatches      int
	RegexMatches      int
	ExpressionMatches int
	Matched           int
	SkippedOversized  int
}

type Matcher struct {
	criteria *models.FilterCriteria
	levels   []*LevelRule
	text     string
}

// New expects criteria that has already passed Validate.
func New(criteria *models.FilterCriteria) *Matcher {
	return NewWithRules(criteria, DefaultLevelRules())
}

func NewWithRules(criteria *models.FilterCriteria, rules []*LevelRule) *Matcher {
	return &Matcher{
		criteria: criteria,
		levels:   rules,
		text:     strings.ToLower(criteria.TextPattern),
	}
}

// Match applies text, level, regex and expression checks in that order. All
// present criteria must pass. stats may be nil.
func (m *Matcher) Match(ev *models.LogEvent, stats *Stats) bool {
	if stats == nil {
		stats = &Stats{}
	}
	stats.Evaluated++

	if m.text != "" {
		if !strings.Contains(strings.ToLower(ev.Message), m.text) {
			return false
		}
		stats.TextMatches++
	}

	if len(m.criteria.LogLevels) > 0 {
		level := ev.Level
		if level == "" {
			level = m.detectLevel(ev.Message)
		}
		if level == "" || !slices.Contains(m.criteria.LogLevels, level) {
			return false
		}
		stats.LevelMatches++
	}

	if re := m.criteria.Regex(); re != nil {
		if !re.MatchString(ev.Message) {
			return false
		}
		stats.RegexMatches++
	}

	if e := m.criteria.CompoundExpression; e != "" {
		if len(ev.Message) > MaxExpressionSize {
			stats.SkippedOversized++
			return false
		}
		if !matchExpression(e, ev) {
			return false
		}
		stats.ExpressionMatches++
	}

	stats.Matched++
	return true
}

func matchExpression(e string, ev *models.LogEvent) bool {
	doc := ev.Metadata
	if len(doc) == 0 {
		if strings.Contains(e, "$.") && !looksLikeJSONObject(ev.Message) {
			return false
		}
		if !expr.MayMatch(e, ev.Message) {
			return false
		}
		doc = models.ParseJSONObject(ev.Message)
		if len(doc) == 0 {
			// plain text, or a brace-wrapped message that failed to parse
			doc = map[string]any{"message": ev.Message}
		}
	}
	return expr.Evaluate(e, doc)
}

func (m *Matcher) detectLevel(message string) models.LogLevel {
	for _, r := range m.levels {
		if r.Pattern.MatchString(message) {
			return r.Level
		}
	}
	return ""
}

// DetectLevel classifies message with the default level rules. It returns ""
// when no level keyword is present.
func DetectLevel(message string) models.LogLevel {
	for _, r := range defaultLevels {
		if r.Pattern.MatchString(message) {
			return r.Level
		}
	}
	return ""
}

// ExtractMetadata parses small JSON-object messages. Anything else yields an
// empty map.
func ExtractMetadata(message string) map[string]any {
	if len(message) >= MaxMetadataSize || !looksLikeJSONObject(message) {
		return map[string]any{}
	}
	return models.ParseJSONObject(message)
}

func looksLikeJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

// ConvertEvent normalizes a backend event.
func ConvertEvent(raw models.RawLogEvent) models.LogEvent {
	ev := models.LogEvent{
		EventID:   raw.EventID,
		Timestamp: time.UnixMilli(raw.Timestamp).UTC(),
		Message:   raw.Message,
		LogStream: raw.LogStreamName,
		Level:     DetectLevel(raw.Message),
		Metadata:  ExtractMetadata(raw.Message),
	}
	if raw.IngestionTime > 0 {
		t := time.UnixMilli(raw.IngestionTime).UTC()
		ev.IngestionTime = &t
	}
	return ev
}
