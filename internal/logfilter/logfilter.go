// Package logfilter drives paginated, server-side filtered searches against
// the log backend and assembles QueryResults.
package logfilter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pkiaudit/vaultmcp/internal/connectors"
	"github.com/pkiaudit/vaultmcp/internal/expr"
	"github.com/pkiaudit/vaultmcp/internal/matcher"
	"github.com/pkiaudit/vaultmcp/internal/models"
)

type Config struct {
	MaxIterations int
	StreamLimit   int
	StreamRecency time.Duration
	CallTimeout   time.Duration
	// LocalFiltering applies every criterion through the pattern matcher and
	// sends only an explicit FilterPattern to the backend.
	LocalFiltering bool
}

func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		StreamLimit:   10,
		StreamRecency: 7 * 24 * time.Hour,
		CallTimeout:   60 * time.Second,
	}
}

type Orchestrator struct {
	logs   connectors.LogsConnector
	config Config
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func New(logs connectors.LogsConnector, config Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.StreamLimit <= 0 {
		config.StreamLimit = defaults.StreamLimit
	}
	if config.StreamRecency <= 0 {
		config.StreamRecency = defaults.StreamRecency
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	o := &Orchestrator{
		logs:   logs,
		config: config,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Filter validates criteria and runs the search. Timeouts and failed pages
// are recorded on the result. Only an unknown log group, rejected
// credentials or invalid criteria are returned as errors.
func (o *Orchestrator) Filter(ctx context.Context, criteria *models.FilterCriteria) (*models.QueryResults, error) {
	if err := criteria.Validate(); err != nil {
		return nil, err
	}
	if criteria.CompoundExpression != "" {
		if err := expr.Validate(criteria.CompoundExpression); err != nil {
			return nil, fmt.Errorf("invalid compound expression: %w", err)
		}
	}

	started := time.Now()
	results := &models.QueryResults{
		QueryID:   newQueryID(),
		LogGroup:  criteria.LogGroup,
		StartTime: criteria.StartTime,
		EndTime:   criteria.EndTime,
	}
	defer func() {
		results.ExecutionTimeMS = time.Since(started).Milliseconds()
	}()

	logger := o.logger.With("query_id", results.QueryID, "log_group", criteria.LogGroup)
	logger.Info("starting log filter query")

	streams := criteria.LogStreams
	if len(streams) == 0 {
		var err error
		streams, err = o.activeStreams(ctx, criteria.LogGroup)
		if err != nil {
			return nil, err
		}
		if len(streams) == 0 {
			results.AddWarning("No active log streams found in " + criteria.LogGroup)
			return results, nil
		}
	}
	results.LogStreamsQueried = streams

	var local *matcher.Matcher
	stats := &matcher.Stats{}
	pattern := o.serverPattern(criteria)
	if o.config.LocalFiltering {
		local = matcher.New(criteria)
	} else if criteria.NeedsLocalMatching() {
		residual := *criteria
		residual.TextPattern = ""
		residual.CompoundExpression = ""
		local = matcher.New(&residual)
	}

	nextToken := criteria.NextToken
	for i := 0; i < o.config.MaxIterations; i++ {
		callCtx, cancel := context.WithTimeout(ctx, o.config.CallTimeout)
		out, err := o.logs.FilterLogEvents(callCtx, connectors.FilterEventsInput{
			LogGroup:      criteria.LogGroup,
			LogStreams:    streams,
			FilterPattern: pattern,
			StartTime:     criteria.StartTime,
			EndTime:       criteria.EndTime,
			Limit:         criteria.PageSize(),
			NextToken:     nextToken,
		})
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if fatal(err) {
				return nil, err
			}
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warn("log backend call timed out", "iteration", i)
				results.AddError("API call timed out")
			} else {
				logger.Error("log backend call failed", "iteration", i, "error", err)
				results.AddError("API call failed: " + err.Error())
			}
			break
		}

		results.APICallsMade++
		results.EventsScanned += len(out.Events)
		for _, raw := range out.Events {
			ev := matcher.ConvertEvent(raw)
			if local != nil && !local.Match(&ev, stats) {
				continue
			}
			results.Events = append(results.Events, ev)
			if len(results.Events) >= criteria.MaxEvents {
				break
			}
		}

		nextToken = out.NextToken
		if len(results.Events) > 0 || nextToken == "" {
			break
		}
	}

	results.NextToken = nextToken
	results.HasMore = nextToken != ""
	results.EventsMatched = len(results.Events)
	logger.Info("log filter query completed",
		"matched", results.EventsMatched,
		"scanned", results.EventsScanned,
		"api_calls", results.APICallsMade,
		"locally_evaluated", stats.Evaluated)
	return results, nil
}

// serverPattern picks the backend-native filter: an explicit pattern, else
// the compound expression, else the quoted text.
func (o *Orchestrator) serverPattern(c *models.FilterCriteria) string {
	if c.FilterPattern != "" {
		return c.FilterPattern
	}
	if o.config.LocalFiltering {
		return ""
	}
	if c.CompoundExpression != "" {
		return expr.FilterPattern(c.CompoundExpression)
	}
	if c.TextPattern != "" {
		return strconv.Quote(c.TextPattern)
	}
	return ""
}

// activeStreams returns the most recently active streams of group. Streams
// that never recorded an event are kept since they may be brand new.
func (o *Orchestrator) activeStreams(ctx context.Context, group string) ([]string, error) {
	streams, err := o.logs.DescribeLogStreams(ctx, group, o.config.StreamLimit)
	if err != nil {
		if fatal(err) {
			return nil, err
		}
		o.logger.Warn("listing active log streams failed", "log_group", group, "error", err)
		return nil, nil
	}

	threshold := o.now().Add(-o.config.StreamRecency)
	active := make([]string, 0, len(streams))
	for _, s := range streams {
		if s.LastEventTimestamp == nil || s.LastEventTimestamp.After(threshold) {
			active = append(active, s.Name)
		}
	}
	return active, nil
}

func fatal(err error) bool {
	switch connectors.KindOf(err) {
	case connectors.KindNotFound, connectors.KindAuthentication:
		return true
	}
	return false
}

func newQueryID() string {
	return "q_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
