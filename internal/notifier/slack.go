package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Slack posts notifications to an incoming webhook.
type Slack struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

func NewSlack(webhookURL, channel string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		channel:    channel,
		username:   "release-watch",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *Slack) Name() string {
	return "slack"
}

func (s *Slack) Send(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(formatSlackMessage(s.channel, s.username, notification))
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}

func formatSlackMessage(channel, username string, notification Notification) slackMessage {
	color := "danger"
	switch notification.Kind {
	case KindRecovery:
		color = "good"
	case KindSummary:
		color = "#439FE0"
	}

	attachment := slackAttachment{
		Color: color,
		Title: notification.Title,
		Text:  notification.Body,
	}
	if notification.Pod.Name != "" {
		attachment.Fields = append(attachment.Fields,
			slackField{Title: "Namespace", Value: notification.Pod.Namespace, Short: true},
			slackField{Title: "Phase", Value: notification.Status.Phase, Short: true},
		)
		if notification.Status.HasReason() {
			attachment.Fields = append(attachment.Fields,
				slackField{Title: "Reason", Value: notification.Status.Reason, Short: true})
		}
	}

	return slackMessage{
		Channel:     channel,
		Username:    username,
		Text:        fmt.Sprintf("*%s*", notification.Title),
		Attachments: []slackAttachment{attachment},
	}
}
