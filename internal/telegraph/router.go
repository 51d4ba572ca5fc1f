package telegraph

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"strings"
	"sync"

	"github.com/zulandar/costdesk/internal/chat"
	"go.uber.org/zap"
)

// commandPrefix is the prefix that triggers command handling.
const commandPrefix = "!cd"

// historyLimit bounds the thread history fetched to find earlier bot replies.
const historyLimit = 50

// threadNameLen caps the name of a thread started for a new question.
const threadNameLen = 80

// Router classifies inbound chat messages and routes them to a thread's
// session, the command handler, or nowhere.
type Router struct {
	sessionMgr *SessionManager
	cmdHandler *CommandHandler
	adapter    Adapter
	botUserID  string // the bot's own user ID (to filter self-messages)
	log        *zap.Logger

	ackMu   sync.Mutex
	ackDeck []string // shuffled phrases, popped from end
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	SessionMgr *SessionManager
	CmdHandler *CommandHandler
	Adapter    Adapter
	BotUserID  string // bot's user ID for self-message filtering
	Log        *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.SessionMgr == nil {
		return nil, fmt.Errorf("telegraph: router: session manager is required")
	}
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("telegraph: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		sessionMgr: opts.SessionMgr,
		cmdHandler: opts.CmdHandler,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		log:        log,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Command prefix "!cd" or "@bot <command>" → command handler
//  3. Message in a thread with a live session → that session
//  4. Thread reply the bot took part in, session expired → new session
//  5. @mention → new session, in a new thread when the adapter can start one
//  6. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	// 1. Filter bot self-messages.
	if r.isSelfMessage(msg) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	log := r.log.With(
		zap.String("channel", msg.ChannelID),
		zap.String("thread", msg.ThreadID),
		zap.String("user", msg.UserName),
	)
	log.Debug("recv", zap.String("text", truncate(text, 80)))

	// 2. Commands.
	if isCommand(text) {
		log.Debug("route: command")
		r.handleCommand(ctx, msg, parseCommand(text))
		return
	}
	if mentionCmd := extractMentionCommand(text); mentionCmd != "" {
		log.Debug("route: mention-command", zap.String("command", mentionCmd))
		r.handleCommand(ctx, msg, strings.Fields(mentionCmd))
		return
	}

	threadID := resolveThreadID(msg.ChannelID, msg.ThreadID)
	question := stripMentions(text)

	// 3. Live session for this channel/thread.
	if ctrl, ok := r.sessionMgr.Get(msg.ChannelID, threadID); ok {
		log.Debug("route: live session")
		r.submit(ctx, ctrl, msg.ChannelID, threadID, question)
		return
	}

	// 4. Earlier conversation in this thread whose session has expired.
	if msg.ThreadID != "" && r.botInThread(ctx, msg.ChannelID, msg.ThreadID) {
		log.Debug("route: reopen expired thread")
		ctrl, err := r.sessionMgr.Open(ctx, msg.ChannelID, threadID)
		if err != nil {
			log.Warn("reopen session", zap.Error(err))
			return
		}
		r.send(ctx, msg.ChannelID, replyThread(msg.ChannelID, threadID), resumedText)
		r.submit(ctx, ctrl, msg.ChannelID, threadID, question)
		return
	}

	// 5. New question addressed to the bot.
	if r.isMention(text) {
		log.Debug("route: new session")
		r.startSession(ctx, msg, question)
		return
	}

	// 6. Not for us.
	log.Debug("route: ignore")
}

// startSession opens a session for a new @mention and submits its question.
func (r *Router) startSession(ctx context.Context, msg InboundMessage, question string) {
	if question == "" {
		r.send(ctx, msg.ChannelID, msg.ThreadID, promptText)
		return
	}

	threadID := resolveThreadID(msg.ChannelID, msg.ThreadID)
	acked := false
	if ts, ok := r.adapter.(ThreadStarter); ok && msg.ThreadID == "" && msg.MessageID != "" {
		id, err := ts.StartThread(ctx, msg.ChannelID, msg.MessageID, r.nextAck(), truncate(question, threadNameLen))
		if err != nil {
			r.log.Warn("start thread; answering in channel", zap.String("channel", msg.ChannelID), zap.Error(err))
		} else {
			threadID = id
			acked = true
		}
	}

	ctrl, err := r.sessionMgr.Open(ctx, msg.ChannelID, threadID)
	if err != nil {
		r.log.Warn("open session", zap.String("channel", msg.ChannelID), zap.Error(err))
		return
	}
	if !ctrl.Send(question) {
		r.send(ctx, msg.ChannelID, replyThread(msg.ChannelID, threadID), busyText)
		return
	}
	if !acked {
		r.sendAck(ctx, msg.ChannelID, replyThread(msg.ChannelID, threadID))
	}
}

// submit hands a question to a session and acknowledges it.
func (r *Router) submit(ctx context.Context, ctrl *chat.Controller, channelID, threadID, question string) {
	thread := replyThread(channelID, threadID)
	if question == "" {
		r.send(ctx, channelID, thread, promptText)
		return
	}
	if !ctrl.Send(question) {
		r.send(ctx, channelID, thread, busyText)
		return
	}
	r.sendAck(ctx, channelID, thread)
}

// resolveThreadID returns the effective thread ID for session lookups.
// For top-level channel messages (empty threadID), the channel ID is used
// as the thread key so that follow-up messages in the same channel can
// find the session even without an explicit thread.
func resolveThreadID(channelID, threadID string) string {
	if threadID == "" {
		return channelID
	}
	return threadID
}

// handleCommand runs a command and posts its reply.
func (r *Router) handleCommand(ctx context.Context, msg InboundMessage, args []string) {
	threadID := resolveThreadID(msg.ChannelID, msg.ThreadID)
	ctrl, _ := r.sessionMgr.Get(msg.ChannelID, threadID)
	reply := r.cmdHandler.Execute(CommandRequest{
		Args:    args,
		Session: ctrl,
		Open: func() (*chat.Controller, error) {
			return r.sessionMgr.Open(ctx, msg.ChannelID, threadID)
		},
	})
	if err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: msg.ChannelID,
		ThreadID:  msg.ThreadID,
		Text:      reply.Text,
		Events:    reply.Events,
	}); err != nil {
		r.log.Warn("send command response", zap.Error(err))
	}
}

// botInThread reports whether the bot posted in a thread before.
func (r *Router) botInThread(ctx context.Context, channelID, threadID string) bool {
	if r.botUserID == "" {
		return false
	}
	msgs, err := r.adapter.ThreadHistory(ctx, channelID, threadID, historyLimit)
	if err != nil {
		r.log.Warn("thread history", zap.String("channel", channelID), zap.String("thread", threadID), zap.Error(err))
		return false
	}
	for _, m := range msgs {
		if m.UserID == r.botUserID {
			return true
		}
	}
	return false
}

func (r *Router) send(ctx context.Context, channelID, threadID, text string) {
	if err := r.adapter.Send(ctx, OutboundMessage{
		ChannelID: channelID,
		ThreadID:  threadID,
		Text:      text,
	}); err != nil {
		r.log.Warn("send reply", zap.Error(err))
	}
}

// ackPhrases are the acknowledgments the bot sends when it accepts a
// question.
var ackPhrases = []string{
	"Looking into it...",
	"Checking your cloud accounts...",
	"Pulling the numbers now.",
	"Give me a sec, crunching costs.",
	"On it. Querying your resources...",
	"Let me dig through the billing data.",
	"Good question. Working on it.",
	"Consulting the ledgers...",
}

// sendAck posts an acknowledgment so the user knows the question was taken.
func (r *Router) sendAck(ctx context.Context, channelID, threadID string) {
	r.send(ctx, channelID, threadID, r.nextAck())
}

// nextAck returns the next ack phrase from the shuffled deck. When the deck
// is exhausted it reshuffles, so every phrase is used before any repeats.
func (r *Router) nextAck() string {
	r.ackMu.Lock()
	defer r.ackMu.Unlock()

	if len(r.ackDeck) == 0 {
		r.ackDeck = make([]string, len(ackPhrases))
		copy(r.ackDeck, ackPhrases)
		rand.Shuffle(len(r.ackDeck), func(i, j int) {
			r.ackDeck[i], r.ackDeck[j] = r.ackDeck[j], r.ackDeck[i]
		})
	}

	phrase := r.ackDeck[len(r.ackDeck)-1]
	r.ackDeck = r.ackDeck[:len(r.ackDeck)-1]
	return phrase
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// isCommand returns true if the text starts with the command prefix.
func isCommand(text string) bool {
	return strings.HasPrefix(text, commandPrefix+" ") || text == commandPrefix
}

// mentionRe matches platform mention markup: Slack <@U123>, Discord <@123>
// and <@!123>.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>`)

// knownCommands maps the commands accepted after a bare @mention to the
// most words they take. Longer text is treated as a question.
var knownCommands = map[string]int{
	"help":   1,
	"cards":  2,
	"ask":    2,
	"view":   2,
	"reset":  1,
	"status": 1,
}

// stripMentions removes mention markup from text.
func stripMentions(text string) string {
	return strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
}

// extractMentionCommand returns the command text of "@bot <command> ...", or
// "" when the text does not start with a mention followed by a known command.
func extractMentionCommand(text string) string {
	loc := mentionRe.FindStringIndex(text)
	if loc == nil || loc[0] != 0 {
		return ""
	}
	stripped := stripMentions(text)
	fields := strings.Fields(stripped)
	if len(fields) == 0 {
		return ""
	}
	if limit, ok := knownCommands[fields[0]]; !ok || len(fields) > limit {
		return ""
	}
	return stripped
}

// isMention reports whether the text addresses the bot.
func (r *Router) isMention(text string) bool {
	if r.botUserID != "" {
		return strings.Contains(text, "<@"+r.botUserID+">") || strings.Contains(text, "<@!"+r.botUserID+">")
	}
	return mentionRe.MatchString(text)
}
