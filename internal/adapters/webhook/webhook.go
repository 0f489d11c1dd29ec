// Package webhook posts punishment events to a Discord-compatible webhook as embeds.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Inpuzah/stafftools/internal/db"
	"github.com/Inpuzah/stafftools/internal/utils/duration"
)

const httpTimeout = 10 * time.Second

const (
	colorRed    = 15158332
	colorOrange = 15105570
	colorYellow = 16776960
	colorBlue   = 3447003
	colorGreen  = 3066993
)

type (
	EmbedField struct {
		Name   string `json:"name"`
		Value  string `json:"value"`
		Inline bool   `json:"inline,omitempty"`
	}

	Embed struct {
		Title     string       `json:"title"`
		Color     int          `json:"color"`
		Fields    []EmbedField `json:"fields"`
		Timestamp string       `json:"timestamp,omitempty"`
	}

	Payload struct {
		Username string  `json:"username,omitempty"`
		Embeds   []Embed `json:"embeds"`
	}
)

type Notifier struct {
	url        string
	username   string
	httpClient *http.Client
}

func New(url, username string) *Notifier {
	return &Notifier{
		url:        url,
		username:   username,
		httpClient: &http.Client{Timeout: httpTimeout},
	}
}

func (n *Notifier) Name() string {
	return "webhook"
}

func (n *Notifier) NotifyIssued(ctx context.Context, p *db.Punishment) error {
	embed := Embed{
		Title:     fmt.Sprintf("%s issued", p.Type),
		Color:     typeColor(p.Type),
		Fields:    baseFields(p),
		Timestamp: p.IssuedTime().UTC().Format(time.RFC3339),
	}
	embed.Fields = append(embed.Fields,
		EmbedField{Name: "Staff", Value: p.StaffName, Inline: true},
		EmbedField{Name: "Duration", Value: duration.FormatMinutes(p.Duration), Inline: true},
		EmbedField{Name: "Reason", Value: p.Reason},
	)
	return n.send(ctx, embed)
}

func (n *Notifier) NotifyRemoved(ctx context.Context, p *db.Punishment) error {
	embed := Embed{
		Title:  fmt.Sprintf("%s removed", p.Type),
		Color:  colorGreen,
		Fields: baseFields(p),
	}
	if p.RemovedByName != nil {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Removed by", Value: *p.RemovedByName, Inline: true})
	}
	if p.RemovedReason != nil {
		embed.Fields = append(embed.Fields, EmbedField{Name: "Reason", Value: *p.RemovedReason})
	}
	if p.RemovedAt != nil {
		embed.Timestamp = time.UnixMilli(*p.RemovedAt).UTC().Format(time.RFC3339)
	}
	return n.send(ctx, embed)
}

func (n *Notifier) send(ctx context.Context, embed Embed) error {
	body, err := json.Marshal(Payload{Username: n.username, Embeds: []Embed{embed}})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return nil
}

func baseFields(p *db.Punishment) []EmbedField {
	return []EmbedField{
		{Name: "Player", Value: p.AccountName, Inline: true},
		{Name: "ID", Value: "#" + strconv.FormatInt(p.ID, 10), Inline: true},
		{Name: "Server", Value: p.ServerName, Inline: true},
	}
}

func typeColor(t db.PunishmentType) int {
	switch t {
	case db.Ban:
		return colorRed
	case db.Mute, db.Kick:
		return colorOrange
	case db.Warn:
		return colorYellow
	default:
		return colorBlue
	}
}
