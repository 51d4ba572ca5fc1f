// Package chat implements the conversational session controller: the session
// state store, the query dispatcher, the dashboard bridge, and the citation
// projector that turns backend citation groups into renderable sources.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FailureText is the assistant message appended when a turn fails for any reason.
const FailureText = "Sorry, there was an error processing your request."

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// View is the active view selector of a session.
type View string

const (
	ViewChat      View = "chat"
	ViewCost      View = "cost"
	ViewResources View = "resources"
	ViewRegions   View = "regions"
	ViewInstances View = "instances"
)

// Views lists every view in display order.
var Views = []View{ViewChat, ViewCost, ViewResources, ViewRegions, ViewInstances}

// ParseView converts a string into a View.
func ParseView(s string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Views {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("chat: unknown view %q", s)
}

// IsDashboard reports whether the view shows dashboard cards rather than the
// conversation.
func (v View) IsDashboard() bool {
	return v != ViewChat && v != ""
}

// Citation is a flat, display-ready source attached to an assistant message.
type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Message is a single entry in the conversation history. Messages are never
// modified after they are appended.
type Message struct {
	Text      string     `json:"text"`
	Sender    Sender     `json:"sender"`
	Citations []Citation `json:"citations,omitempty"`
}

// Result is a well-formed answer from the backend chat endpoint.
type Result struct {
	Answer    string
	SessionID string
	Citations []CitationGroup
}

// DashboardState holds the lazily loaded dashboard payload. It is independent
// of the busy flag: loading dashboard data never blocks a chat turn.
type DashboardState struct {
	Data        json.RawMessage `json:"data,omitempty"`
	Loading     bool            `json:"loading"`
	Unavailable bool            `json:"unavailable"`
}

// Available reports whether dashboard data has been loaded.
func (d DashboardState) Available() bool {
	return len(d.Data) > 0
}

// EffectKind names the side-effecting action a transition asks for.
type EffectKind int

const (
	EffectNone EffectKind = iota
	EffectDispatch
	EffectLoadDashboard
)

func (k EffectKind) String() string {
	switch k {
	case EffectDispatch:
		return "dispatch"
	case EffectLoadDashboard:
		return "load-dashboard"
	default:
		return "none"
	}
}

// Effect describes the one action the caller must perform after a transition.
// For EffectDispatch, Query and SessionID are the request to send.
type Effect struct {
	Kind      EffectKind
	Query     string
	SessionID string
}

// Session is the single source of truth for one conversation and its view
// state. ID is empty until the backend assigns one.
type Session struct {
	ID           string         `json:"sessionId,omitempty"`
	History      []Message      `json:"history"`
	PendingInput string         `json:"pendingInput"`
	Busy         bool           `json:"busy"`
	ActiveView   View           `json:"activeView"`
	Dashboard    DashboardState `json:"dashboard"`
}

// NewSession returns an idle session showing the chat view.
func NewSession() *Session {
	return &Session{ActiveView: ViewChat}
}

// AppendUserMessage appends a user message and marks the session busy. It is
// a no-op returning false when the trimmed text is empty or a turn is already
// in flight.
func (s *Session) AppendUserMessage(text string) bool {
	if strings.TrimSpace(text) == "" || s.Busy {
		return false
	}
	s.History = append(s.History, Message{Text: text, Sender: SenderUser})
	s.PendingInput = ""
	s.Busy = true
	return true
}

// ApplyAssistantResult appends the assistant answer with its projected
// citations and ends the turn. The first session ID the backend returns is
// adopted; later ones are ignored.
func (s *Session) ApplyAssistantResult(res Result) {
	s.History = append(s.History, Message{
		Text:      res.Answer,
		Sender:    SenderAssistant,
		Citations: ProjectCitations(res.Citations),
	})
	if s.ID == "" && res.SessionID != "" {
		s.ID = res.SessionID
	}
	s.Busy = false
}

// ApplyAssistantFailure appends the fixed failure message and ends the turn.
func (s *Session) ApplyAssistantFailure() {
	s.History = append(s.History, Message{Text: FailureText, Sender: SenderAssistant})
	s.Busy = false
}

// SetPendingInput replaces the input buffer.
func (s *Session) SetPendingInput(text string) {
	s.PendingInput = text
}

// SetActiveView switches views. Switching to a dashboard view with no data
// loaded (and no load in progress) asks for a dashboard load.
func (s *Session) SetActiveView(v View) Effect {
	s.ActiveView = v
	if v.IsDashboard() && !s.Dashboard.Available() && !s.Dashboard.Loading {
		s.Dashboard.Loading = true
		return Effect{Kind: EffectLoadDashboard}
	}
	return Effect{Kind: EffectNone}
}

// ApplyDashboardData stores a loaded dashboard payload.
func (s *Session) ApplyDashboardData(data json.RawMessage) {
	s.Dashboard = DashboardState{Data: data}
}

// ApplyDashboardFailure records that no dashboard data is available. A later
// switch to a dashboard view retries the load.
func (s *Session) ApplyDashboardFailure() {
	s.Dashboard = DashboardState{Unavailable: true}
}

// Submit is the manual submit path: it appends the pending input as a user
// message and, when accepted, returns the dispatch to perform.
func (s *Session) Submit() Effect {
	text := s.PendingInput
	if !s.AppendUserMessage(text) {
		return Effect{Kind: EffectNone}
	}
	return Effect{Kind: EffectDispatch, Query: text, SessionID: s.ID}
}

// Reset ends the conversation and returns the session to its initial state.
func (s *Session) Reset() {
	*s = Session{ActiveView: ViewChat}
}

// Clone returns a copy that shares no mutable slices with s.
func (s *Session) Clone() Session {
	c := *s
	c.History = append([]Message(nil), s.History...)
	if s.Dashboard.Data != nil {
		c.Dashboard.Data = append(json.RawMessage(nil), s.Dashboard.Data...)
	}
	return c
}
