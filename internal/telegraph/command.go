package telegraph

import (
	"fmt"
	"strings"

	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
)

// Reply texts shared by the router and the command handler.
const (
	busyText    = "Still working on your previous question."
	noSession   = "No conversation in this thread yet. Mention me with a question to start one."
	promptText  = "Ask me about your cloud costs and resources, or try `" + commandPrefix + " cards`."
	resumedText = "The earlier conversation in this thread has expired. Starting a new one."
)

// Reply is the response to a command.
type Reply struct {
	Text   string
	Events []FormattedEvent
}

// CommandRequest carries one parsed command and the session of the thread it
// was sent in.
type CommandRequest struct {
	Args    []string
	Session *chat.Controller // nil when the thread has no live session
	// Open returns the thread's session, creating it if needed.
	Open func() (*chat.Controller, error)
}

// CommandHandler processes "!cd" commands from chat.
type CommandHandler struct {
	cat *catalog.Catalog
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Catalog *catalog.Catalog // defaults to the built-in catalog
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	return &CommandHandler{cat: cat}, nil
}

// Execute runs a parsed command and returns the reply to post.
func (ch *CommandHandler) Execute(req CommandRequest) Reply {
	if len(req.Args) == 0 {
		return Reply{Text: ch.helpText()}
	}

	switch req.Args[0] {
	case "help":
		return Reply{Text: ch.helpText()}
	case "cards":
		return ch.cmdCards(req.Args[1:])
	case "ask":
		return ch.cmdAsk(req)
	case "view":
		return ch.cmdView(req)
	case "reset":
		return ch.cmdReset(req)
	case "status":
		return ch.cmdStatus(req)
	default:
		return Reply{Text: fmt.Sprintf("Unknown command: `%s`\n\n%s", req.Args[0], ch.helpText())}
	}
}

// parseCommand strips the "!cd" prefix and splits the remaining text.
func parseCommand(text string) []string {
	text = strings.TrimSpace(text)
	if text == commandPrefix {
		return nil
	}
	text = strings.TrimPrefix(text, commandPrefix+" ")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

func (ch *CommandHandler) cmdCards(args []string) Reply {
	if len(args) == 0 {
		return Reply{Text: FormatCards(ch.cat, "")}
	}
	v, err := chat.ParseView(args[0])
	if err != nil || !v.IsDashboard() {
		return Reply{Text: fmt.Sprintf("Unknown dashboard `%s`. Views: %s", args[0], ch.viewList())}
	}
	return Reply{Text: FormatCards(ch.cat, v)}
}

func (ch *CommandHandler) cmdAsk(req CommandRequest) Reply {
	if len(req.Args) < 2 {
		return Reply{Text: fmt.Sprintf("Usage: `%s ask <card-id>`", commandPrefix)}
	}
	card, ok := ch.cat.Card(req.Args[1])
	if !ok {
		return Reply{Text: fmt.Sprintf("Unknown card `%s`. Try `%s cards`.", req.Args[1], commandPrefix)}
	}
	ctrl, err := ch.session(req)
	if err != nil {
		return Reply{Text: "Could not start a conversation: " + err.Error()}
	}
	if !ctrl.AskFromCard(card.Question) {
		return Reply{Text: busyText}
	}
	return Reply{Text: "> " + card.Question}
}

func (ch *CommandHandler) cmdView(req CommandRequest) Reply {
	if len(req.Args) < 2 {
		return Reply{Text: fmt.Sprintf("Usage: `%s view <%s>`", commandPrefix, ch.viewList())}
	}
	v, err := chat.ParseView(req.Args[1])
	if err != nil {
		return Reply{Text: fmt.Sprintf("Unknown view `%s`. Views: chat, %s", req.Args[1], ch.viewList())}
	}
	ctrl, err := ch.session(req)
	if err != nil {
		return Reply{Text: "Could not start a conversation: " + err.Error()}
	}
	ctrl.SetView(v)
	if !v.IsDashboard() {
		return Reply{Text: "Back to chat."}
	}

	title := "Dashboard"
	if d, ok := ch.cat.Dashboard(v); ok {
		title = d.Title
	}
	snap := ctrl.Snapshot()
	if snap.Dashboard.Loading {
		return Reply{Text: fmt.Sprintf("Loading %s...", title)}
	}
	return Reply{Events: []FormattedEvent{FormatDashboard(title, snap.Dashboard)}}
}

func (ch *CommandHandler) cmdReset(req CommandRequest) Reply {
	if req.Session == nil {
		return Reply{Text: noSession}
	}
	req.Session.Reset()
	return Reply{Text: "Conversation reset. Your next question starts a new session."}
}

func (ch *CommandHandler) cmdStatus(req CommandRequest) Reply {
	if req.Session == nil {
		return Reply{Text: noSession}
	}
	text := FormatStatus(req.Session.Snapshot())
	if n := req.Session.FailedTurns(); n > 0 {
		text += fmt.Sprintf("\nFailed turns: %d", n)
	}
	return Reply{Text: text}
}

// session returns the request's session, opening one when the thread has
// none.
func (ch *CommandHandler) session(req CommandRequest) (*chat.Controller, error) {
	if req.Session != nil {
		return req.Session, nil
	}
	if req.Open == nil {
		return nil, fmt.Errorf("no session")
	}
	return req.Open()
}

func (ch *CommandHandler) viewList() string {
	names := make([]string, 0, len(ch.cat.Views))
	for _, d := range ch.cat.Views {
		names = append(names, string(d.View))
	}
	return strings.Join(names, ", ")
}

func (ch *CommandHandler) helpText() string {
	return "*costdesk commands:*\n" +
		"`" + commandPrefix + " cards [view]`  list dashboard cards\n" +
		"`" + commandPrefix + " ask <card-id>`  ask a card's question\n" +
		"`" + commandPrefix + " view <view>`  switch view and show dashboard data\n" +
		"`" + commandPrefix + " reset`  start over in this thread\n" +
		"`" + commandPrefix + " status`  show this thread's session\n" +
		"`" + commandPrefix + " help`  show this help\n\n" +
		"Mention me with a question to start a conversation; reply in the thread to continue it."
}
