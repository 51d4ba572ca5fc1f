// Package telegraph bridges costdesk sessions to chat platforms (Slack,
// Discord). Each platform thread hosts one conversational session.
package telegraph

import (
	"context"
	"time"
)

// Adapter connects costdesk to one chat platform. The daemon reads
// questions from Listen and posts answers, sources and command replies
// through Send.
type Adapter interface {
	Connect(ctx context.Context) error

	// Listen yields messages addressed to the bot. It is valid only after
	// Connect, and the channel closes when the adapter does.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send posts one reply. Long text is split by the adapter.
	Send(ctx context.Context, msg OutboundMessage) error

	// ThreadHistory returns up to limit messages of a thread, oldest first.
	// It is used to seed a session opened in an existing thread.
	ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]ThreadMessage, error)

	Close() error
}

// InboundMessage is a question or command typed by a user.
type InboundMessage struct {
	Platform  string // "slack" or "discord"
	ChannelID string
	ThreadID  string // empty for a top-level message
	MessageID string // Slack ts or Discord snowflake; roots a new thread
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}

// OutboundMessage is a reply posted into a channel or thread.
type OutboundMessage struct {
	ChannelID string
	ThreadID  string // empty posts at top level
	Text      string // already in the platform's markup
	Events    []FormattedEvent
}

// FormattedEvent is a block attached under a reply: the sources of an
// answer, a dashboard summary, a failure notice. Slack renders it as an
// attachment and Discord as an embed.
type FormattedEvent struct {
	Title    string
	Body     string
	Severity string // info, warning or success
	Color    string // hex sidebar color, see the Color* constants
	Fields   []Field
}

// Field is one name/value row of a FormattedEvent. Short fields may share
// a line.
type Field struct {
	Name  string
	Value string
	Short bool
}

// BotUserIDer is implemented by adapters that know their own user ID, so
// the daemon can ignore the bot's replies.
type BotUserIDer interface {
	BotUserID() string
}

// ThreadStarter is implemented by adapters that can open a thread under a
// message. The first reply goes into the new thread, whose ID is returned.
type ThreadStarter interface {
	StartThread(ctx context.Context, channelID, messageID, replyText, threadName string) (string, error)
}

// ThreadMessage is one entry of a thread history.
type ThreadMessage struct {
	UserID    string
	UserName  string
	Text      string
	Timestamp time.Time
}
