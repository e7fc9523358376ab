package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SlackNotifier posts run summaries to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	iconEmoji  string
	client     *http.Client
}

type SlackOption func(*SlackNotifier)

// WithSlackChannel overrides the webhook's default channel.
func WithSlackChannel(channel string) SlackOption {
	return func(s *SlackNotifier) {
		s.channel = channel
	}
}

func WithSlackUsername(username string) SlackOption {
	return func(s *SlackNotifier) {
		s.username = username
	}
}

func WithSlackIconEmoji(emoji string) SlackOption {
	return func(s *SlackNotifier) {
		s.iconEmoji = emoji
	}
}

func NewSlackNotifier(webhookURL string, opts ...SlackOption) *SlackNotifier {
	s := &SlackNotifier{
		webhookURL: webhookURL,
		username:   "parity",
		iconEmoji:  ":scales:",
		client:     newWebhookClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SlackNotifier) Name() string {
	return "slack"
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func (s *SlackNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	color, emoji := "good", ":white_check_mark:"
	switch {
	case !summary.OK():
		color, emoji = "danger", ":x:"
	case summary.Recovered:
		emoji = ":tada:"
	}

	var fields []slackField
	for _, f := range summary.facts() {
		fields = append(fields, slackField{Title: f[0], Value: f[1], Short: true})
	}

	var text string
	if lines := summary.failureLines(); len(lines) > 0 {
		text = "*Differing requests:*\n" + strings.Join(lines, "\n")
	}

	footer := "parity"
	if summary.RunID != "" {
		footer += " run " + summary.RunID
	}

	return postJSON(ctx, s.client, "slack", s.webhookURL, slackMessage{
		Channel:   s.channel,
		Username:  s.username,
		IconEmoji: s.iconEmoji,
		Attachments: []slackAttachment{{
			Color:  color,
			Title:  emoji + " " + summary.title(),
			Text:   text,
			Fields: fields,
			Footer: footer,
			TS:     time.Now().Unix(),
		}},
	}, http.StatusOK)
}
