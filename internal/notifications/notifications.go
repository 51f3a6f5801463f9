package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Severity orders alerts for the per-channel minimum.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityOrder = map[Severity]int{
	SeverityInfo:     1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

type Notification struct {
	Title     string
	Message   string
	Severity  Severity
	Fields    map[string]string
	Timestamp time.Time
}

type SlackConfig struct {
	WebhookURL  string
	Channel     string
	Username    string
	IconEmoji   string
	MinSeverity Severity
}

// Service posts notifications to a Slack incoming webhook.
type Service struct {
	config SlackConfig
	logger *slog.Logger
	client *http.Client
}

func NewService(config SlackConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Username == "" {
		config.Username = "Vault PKI Watch"
	}
	if config.MinSeverity == "" {
		config.MinSeverity = SeverityWarning
	}

	return &Service{
		config: config,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Service) Send(ctx context.Context, notif *Notification) error {
	if severityOrder[notif.Severity] < severityOrder[s.config.MinSeverity] {
		return nil
	}
	if s.config.WebhookURL == "" {
		return errors.New("slack webhook url not configured")
	}

	// Slack renders fields in the order given.
	fields := make([]SlackField, 0, len(notif.Fields))
	for _, k := range []string{"mount", "expiring", "expired", "revoked", "total"} {
		if v, ok := notif.Fields[k]; ok {
			fields = append(fields, SlackField{Title: k, Value: v, Short: true})
		}
	}

	msg := SlackMessage{
		Channel:   s.config.Channel,
		Username:  s.config.Username,
		IconEmoji: s.config.IconEmoji,
		Attachments: []SlackAttachment{
			{
				Color:     severityColor(notif.Severity),
				Title:     notif.Title,
				Text:      notif.Message,
				Fallback:  fmt.Sprintf("%s: %s", notif.Title, notif.Message),
				Fields:    fields,
				Footer:    "vaultmcp expiry watch",
				Timestamp: notif.Timestamp.Unix(),
			},
		},
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}

	s.logger.Info("slack notification sent", "title", notif.Title)
	return nil
}

type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fallback  string       `json:"fallback,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func severityColor(severity Severity) string {
	switch severity {
	case SeverityCritical:
		return "#FF0000"
	case SeverityWarning:
		return "#FFA500"
	default:
		return "#36A64F"
	}
}
