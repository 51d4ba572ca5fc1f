package telegraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// maxMessageLen is the chunk size for posted answers (Discord's limit).
const maxMessageLen = 2000

// maxFields caps the fields of one attachment.
const maxFields = 10

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatSources renders the citations of an answer as a "Sources" block.
// It returns false when there are no citations.
func FormatSources(cites []chat.Citation) (FormattedEvent, bool) {
	if len(cites) == 0 {
		return FormattedEvent{}, false
	}
	evt := FormattedEvent{
		Title:    "Sources",
		Severity: "info",
		Color:    severityColor("info"),
	}
	for i, c := range cites {
		if i == maxFields {
			evt.Body = fmt.Sprintf("+%d more", len(cites)-maxFields)
			break
		}
		value := c.URI
		if value == chat.PlaceholderURI {
			value = "(no link)"
		}
		evt.Fields = append(evt.Fields, Field{Name: c.Title, Value: value})
	}
	return evt, true
}

// FormatAssistantMessage splits an assistant message into outbound messages
// for one thread. The sources block rides on the last chunk.
func FormatAssistantMessage(channelID, threadID string, m chat.Message) []OutboundMessage {
	chunks := chunkMessage(m.Text, maxMessageLen)
	out := make([]OutboundMessage, 0, len(chunks))
	for _, chunk := range chunks {
		out = append(out, OutboundMessage{ChannelID: channelID, ThreadID: threadID, Text: chunk})
	}
	if evt, ok := FormatSources(m.Citations); ok {
		out[len(out)-1].Events = []FormattedEvent{evt}
	}
	return out
}

// FormatDashboard renders dashboard data for a view. Scalar top-level keys of
// a JSON object become fields; anything else is summarized.
func FormatDashboard(title string, d chat.DashboardState) FormattedEvent {
	if !d.Available() {
		return FormattedEvent{
			Title:    title,
			Body:     "Dashboard data is not available right now.",
			Severity: "warning",
			Color:    severityColor("warning"),
		}
	}
	evt := FormattedEvent{
		Title:    title,
		Severity: "success",
		Color:    severityColor("success"),
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(d.Data, &obj); err != nil {
		evt.Body = truncate(string(d.Data), 500)
		return evt
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(evt.Fields) == maxFields {
			break
		}
		v := strings.TrimSpace(string(obj[k]))
		if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
			continue
		}
		evt.Fields = append(evt.Fields, Field{Name: k, Value: strings.Trim(v, `"`), Short: true})
	}
	if len(evt.Fields) == 0 {
		evt.Body = "Dashboard data loaded."
	}
	return evt
}

// FormatCards lists the cards of one dashboard view, or of every view when v
// is empty.
func FormatCards(cat *catalog.Catalog, v chat.View) string {
	var b strings.Builder
	for _, d := range cat.Views {
		if v != "" && d.View != v {
			continue
		}
		fmt.Fprintf(&b, "*%s* (`%s`)\n", d.Title, d.View)
		for _, c := range d.Cards {
			fmt.Fprintf(&b, "  `%s`  %s\n", c.ID, c.Title)
		}
	}
	if b.Len() == 0 {
		return fmt.Sprintf("No cards for view `%s`.", v)
	}
	if cat.CardHint != "" {
		fmt.Fprintf(&b, "\n%s Use `%s ask <card-id>`.", cat.CardHint, commandPrefix)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStatus summarizes a session for the status command.
func FormatStatus(s chat.Session) string {
	state := "idle"
	if s.Busy {
		state = "working on a question"
	}
	id := s.ID
	if id == "" {
		id = "(none yet)"
	}
	return fmt.Sprintf("Session: %s\nBackend session: %s\nMessages: %d\nView: %s",
		state, id, len(s.History), s.ActiveView)
}

// chunkMessage splits text into chunks of at most maxLen characters.
// It prefers breaking at newlines when possible.
func chunkMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = maxMessageLen
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}

		// Look for a newline in the second half of the chunk to break at.
		chunk := text[:maxLen]
		breakAt := -1
		half := maxLen / 2
		for i := maxLen - 1; i >= half; i-- {
			if chunk[i] == '\n' {
				breakAt = i
				break
			}
		}

		if breakAt >= 0 {
			chunks = append(chunks, text[:breakAt])
			text = text[breakAt+1:] // skip the newline
		} else {
			chunks = append(chunks, chunk)
			text = text[maxLen:]
		}
	}
	return chunks
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
