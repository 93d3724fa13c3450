package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jrsteele09/safe-zone-client/mibs"
	"github.com/jrsteele09/safe-zone-client/session"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(s)); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

var (
	primary = lipgloss.Color("#7C3AED")
	success = lipgloss.Color("#10B981")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle  = lipgloss.NewStyle().Foreground(muted).Width(12)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(primary).PaddingRight(2)
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	okStyle     = lipgloss.NewStyle().Foreground(success).Bold(true)
	badStyle    = lipgloss.NewStyle().Foreground(danger).Bold(true)
)

// render writes v as JSON or YAML, or calls table for the default format.
func render(w io.Writer, format outputFormat, v any, table func() string) error {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(w, table())
		return err
	}
}

type statusView struct {
	Issuer    string     `json:"issuer" yaml:"issuer"`
	Phase     string     `json:"phase" yaml:"phase"`
	LoggedIn  bool       `json:"loggedIn" yaml:"loggedIn"`
	Subject   string     `json:"subject,omitempty" yaml:"subject,omitempty"`
	Username  string     `json:"username,omitempty" yaml:"username,omitempty"`
	Email     string     `json:"email,omitempty" yaml:"email,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	API       string     `json:"api" yaml:"api"`
	Error     string     `json:"error,omitempty" yaml:"error,omitempty"`
}

func newStatusView(snap session.Snapshot, apiURL string) statusView {
	view := statusView{
		Issuer:   snap.Issuer,
		Phase:    snap.Phase.String(),
		LoggedIn: snap.LoggedIn,
		API:      apiURL,
	}
	if snap.Err != nil {
		view.Error = snap.Err.Error()
	}
	if !snap.Expiry.IsZero() {
		expiry := snap.Expiry
		view.ExpiresAt = &expiry
	}
	if claims, err := session.ParseClaims(snap.AccessToken); err == nil {
		view.Subject = claims.Subject
		view.Username = claims.PreferredUsername
		view.Email = claims.Email
	}
	return view
}

func formatStatusTable(v statusView) string {
	state := badStyle.Render("logged out")
	if v.LoggedIn {
		state = okStyle.Render("logged in")
	}

	rows := []string{titleStyle.Render("SAFE-ZONE session")}
	add := func(label, value string) {
		if value != "" {
			rows = append(rows, labelStyle.Render(label)+value)
		}
	}
	add("Status", state)
	add("Phase", v.Phase)
	add("Issuer", v.Issuer)
	add("API", v.API)
	add("User", v.Username)
	add("Email", v.Email)
	add("Subject", v.Subject)
	if v.ExpiresAt != nil {
		add("Expires", v.ExpiresAt.Local().Format(time.RFC1123))
	}
	add("Error", v.Error)
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

type messageView struct {
	ID         int       `json:"id" yaml:"id"`
	Message    string    `json:"message" yaml:"message"`
	Recipients []string  `json:"recipients" yaml:"recipients"`
	SendTime   time.Time `json:"sendTime" yaml:"sendTime"`
	Countdown  string    `json:"countdown" yaml:"countdown"`
	Sent       bool      `json:"sent" yaml:"sent"`
}

func newMessageViews(messages []mibs.Message, now time.Time) []messageView {
	views := make([]messageView, 0, len(messages))
	for _, m := range messages {
		recipients := make([]string, 0, len(m.Recipients))
		for _, r := range m.Recipients {
			recipients = append(recipients, r.Kind.String()+":"+r.Value)
		}
		views = append(views, messageView{
			ID:         m.ID(),
			Message:    m.Message,
			Recipients: recipients,
			SendTime:   m.SendTime,
			Countdown:  mibs.Countdown(m.SendTime, now),
			Sent:       m.Sent,
		})
	}
	return views
}

func formatMessagesTable(views []messageView) string {
	if len(views) == 0 {
		return "No messages scheduled."
	}

	headers := []string{"ID", "MESSAGE", "RECIPIENTS", "SEND TIME", "IN", "SENT"}
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{
			strconv.Itoa(v.ID),
			truncate(v.Message, 40),
			strings.Join(v.Recipients, ", "),
			v.SendTime.Local().Format("2006-01-02 15:04"),
			v.Countdown,
			strconv.FormatBool(v.Sent),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		rendered := make([]string, len(cells))
		for i, cell := range cells {
			rendered[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
	}

	lines := []string{line(headers, headerStyle)}
	for _, row := range rows {
		lines = append(lines, line(row, cellStyle))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
