// Package notify delivers audit reports to a Discord webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mornew/gallery/internal/store"
)

// Discord embed wire format, only the fields the reports use.

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Color       int                `json:"color,omitempty"`
	Fields      []discordField     `json:"fields,omitempty"`
	Thumbnail   *discordEmbedMedia `json:"thumbnail,omitempty"`
	Timestamp   string             `json:"timestamp,omitempty"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type discordEmbedMedia struct {
	URL string `json:"url"`
}

const embedColor = 0xE67E22

// DiscordNotifier posts messages to a single webhook URL.
type DiscordNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordNotifier creates a notifier for the given webhook URL.
func NewDiscordNotifier(webhookURL string) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Post renders the message as Discord embeds and delivers it. Discord limits
// field values to 1024 characters; longer values are truncated rather than
// rejected, a clipped SQL statement in a report beats no report.
func (n *DiscordNotifier) Post(ctx context.Context, msg store.Message) error {
	payload := discordPayload{Content: msg.Body}

	if msg.Title != "" {
		payload.Embeds = append(payload.Embeds, discordEmbed{
			Title:     msg.Title,
			Color:     embedColor,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}

	for _, sec := range msg.Sections {
		embed := discordEmbed{
			Title: sec.Title,
			Color: embedColor,
		}
		for _, f := range sec.Fields {
			embed.Fields = append(embed.Fields, discordField{
				Name:  f.Name,
				Value: clip(f.Value, 1024),
			})
		}
		if sec.Image != "" {
			embed.Thumbnail = &discordEmbedMedia{URL: sec.Image}
		}
		payload.Embeds = append(payload.Embeds, embed)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord webhook returned %d: %s", resp.StatusCode, string(detail))
	}
	return nil
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
