package notify

import (
	"context"
	"net/http"
	"time"
)

// TeamsNotifier posts run summaries as Adaptive Cards to a Microsoft
// Teams workflow webhook.
type TeamsNotifier struct {
	webhookURL string
	client     *http.Client
}

type TeamsOption func(*TeamsNotifier)

func NewTeamsNotifier(webhookURL string, opts ...TeamsOption) *TeamsNotifier {
	t := &TeamsNotifier{
		webhookURL: webhookURL,
		client:     newWebhookClient(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *TeamsNotifier) Name() string {
	return "teams"
}

type teamsMessage struct {
	Type        string      `json:"type"`
	Attachments []teamsCard `json:"attachments"`
}

type teamsCard struct {
	ContentType string           `json:"contentType"`
	Content     teamsCardContent `json:"content"`
}

type teamsCardContent struct {
	Schema  string       `json:"$schema"`
	Type    string       `json:"type"`
	Version string       `json:"version"`
	Body    []teamsBlock `json:"body"`
}

// teamsBlock covers the TextBlock and FactSet elements used here.
type teamsBlock struct {
	Type      string      `json:"type"`
	Size      string      `json:"size,omitempty"`
	Weight    string      `json:"weight,omitempty"`
	Text      string      `json:"text,omitempty"`
	Color     string      `json:"color,omitempty"`
	Wrap      bool        `json:"wrap,omitempty"`
	Separator bool        `json:"separator,omitempty"`
	Facts     []teamsFact `json:"facts,omitempty"`
}

type teamsFact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

func textBlock(text string) teamsBlock {
	return teamsBlock{Type: "TextBlock", Text: text, Wrap: true}
}

func (t *TeamsNotifier) Notify(ctx context.Context, summary *RunSummary) error {
	color, mark := "good", "✓"
	switch {
	case !summary.OK():
		color, mark = "attention", "✗"
	case summary.Recovered:
		mark = "🎉"
	}

	facts := teamsBlock{Type: "FactSet", Separator: true}
	for _, f := range summary.facts() {
		facts.Facts = append(facts.Facts, teamsFact{Title: f[0], Value: f[1]})
	}

	body := []teamsBlock{
		{Type: "TextBlock", Size: "Large", Weight: "Bolder", Color: color, Text: mark + " " + summary.title()},
		facts,
	}
	if lines := summary.failureLines(); len(lines) > 0 {
		heading := textBlock("**Differing requests:**")
		heading.Separator = true
		body = append(body, heading)
		for _, line := range lines {
			body = append(body, textBlock("- "+line))
		}
	}
	footer := textBlock("_parity " + time.Now().Format(time.RFC3339) + "_")
	footer.Separator = true
	body = append(body, footer)

	return postJSON(ctx, t.client, "teams", t.webhookURL, teamsMessage{
		Type: "message",
		Attachments: []teamsCard{{
			ContentType: "application/vnd.microsoft.card.adaptive",
			Content: teamsCardContent{
				Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
				Type:    "AdaptiveCard",
				Version: "1.4",
				Body:    body,
			},
		}},
	}, http.StatusOK, http.StatusAccepted)
}
