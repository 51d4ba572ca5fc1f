// Package slack connects costdesk to Slack over Socket Mode. Mentions and
// thread replies become questions; answers are posted back into the thread
// with their sources as attachments.
package slack

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/costdesk/internal/telegraph"
	"go.uber.org/zap"
)

const (
	inboundBuffer = 100
	// seenLimit bounds the "channel:ts" keys kept for deduplication.
	seenLimit = 512
	// historyPage is the conversations.replies page size.
	historyPage = 200
)

// backoff doubles base per attempt, capped at max.
type backoff struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.base << uint(attempt)
	if d <= 0 || d > b.max {
		return b.max
	}
	return d
}

var (
	socketReconnect = backoff{base: 2 * time.Second, max: 2 * time.Minute, attempts: 10}
	// Used when Slack rate limits a call without a Retry-After.
	rateLimitRetry = backoff{base: time.Second, max: 30 * time.Second, attempts: 3}
)

// slackClient is the part of the Web API the adapter calls.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient is the part of the Socket Mode client the adapter calls.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// smClient exposes the event channel of a *socketmode.Client.
type smClient struct{ *socketmode.Client }

func (c smClient) EventsChan() chan socketmode.Event { return c.Events }

// Adapter is the Slack telegraph.Adapter.
type Adapter struct {
	client    slackClient
	socket    socketClient
	appToken  string
	botToken  string
	channelID string // used when an outbound message names no channel
	log       *zap.Logger
	reconnect backoff

	mu        sync.Mutex
	botUserID string
	connected bool
	closed    bool
	inbound   chan telegraph.InboundMessage
	stop      context.CancelFunc
	// A mention in a channel arrives both as a message and as an
	// app_mention; seen keeps the "channel:ts" keys already emitted.
	seen      map[string]struct{}
	seenOrder []string
	userNames map[string]string
}

// AdapterOpts configures a Slack Adapter. Client and Socket replace the
// real Slack clients in tests.
type AdapterOpts struct {
	AppToken  string // xapp-..., for Socket Mode
	BotToken  string // xoxb-...
	ChannelID string
	Log       *zap.Logger
	Client    slackClient
	Socket    socketClient
}

// New creates a Slack Adapter. Nothing is dialed until Connect.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		client:    opts.Client,
		socket:    opts.Socket,
		appToken:  opts.AppToken,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		log:       log.Named("slack"),
		reconnect: socketReconnect,
		inbound:   make(chan telegraph.InboundMessage, inboundBuffer),
		seen:      make(map[string]struct{}),
		userNames: make(map[string]string),
	}, nil
}

// Connect authenticates the bot token and learns the bot's user ID.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("slack: adapter already closed")
	case a.connected:
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = smClient{socketmode.New(api)}
	}
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	a.log.Info("authenticated", zap.String("bot_user", auth.UserID), zap.String("team", auth.Team))
	return nil
}

// Listen starts the Socket Mode connection and returns the questions it
// delivers.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("slack: not connected")
	}
	ctx, a.stop = context.WithCancel(ctx)
	go a.runWithReconnect(ctx)
	go a.pumpEvents(ctx)
	return a.inbound, nil
}

// Send posts a reply. Events become attachments under the text.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("slack: not connected")
	}
	channelID := msg.ChannelID
	if channelID == "" {
		channelID = a.channelID
	}
	if channelID == "" {
		return fmt.Errorf("slack: no channel specified")
	}

	opts := buildMessageOptions(msg)
	if err := retryOnRateLimit(ctx, func() error {
		_, _, err := a.client.PostMessage(channelID, opts...)
		return err
	}); err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// StartThread answers under messageID, which makes it a thread parent. In
// Slack the thread ID is the parent's ts; threads carry no name.
func (a *Adapter) StartThread(ctx context.Context, channelID, messageID, replyText, _ string) (string, error) {
	if messageID == "" {
		return "", fmt.Errorf("slack: start thread: message ID is required")
	}
	reply := telegraph.OutboundMessage{ChannelID: channelID, ThreadID: messageID, Text: replyText}
	if err := a.Send(ctx, reply); err != nil {
		return "", fmt.Errorf("slack: start thread: %w", err)
	}
	return messageID, nil
}

// ThreadHistory reads a thread through conversations.replies, oldest first,
// stopping at limit messages when limit is positive.
func (a *Adapter) ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]telegraph.ThreadMessage, error) {
	if !a.isConnected() {
		return nil, fmt.Errorf("slack: not connected")
	}
	params := &slackapi.GetConversationRepliesParameters{
		ChannelID: channelID,
		Timestamp: threadID,
		Limit:     historyPage,
	}
	if limit > 0 && limit < historyPage {
		params.Limit = limit
	}
	full := func(msgs []telegraph.ThreadMessage) bool { return limit > 0 && len(msgs) >= limit }

	var out []telegraph.ThreadMessage
	for {
		var (
			page []slackapi.Message
			more bool
			next string
		)
		err := retryOnRateLimit(ctx, func() (err error) {
			page, more, next, err = a.client.GetConversationReplies(params)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversation replies: %w", err)
		}
		for _, m := range page {
			if full(out) {
				return out, nil
			}
			out = append(out, telegraph.ThreadMessage{
				UserID:    m.User,
				UserName:  a.resolveUserName(m.User),
				Text:      m.Text,
				Timestamp: parseSlackTimestamp(m.Timestamp),
			})
		}
		if full(out) || !more || next == "" {
			return out, nil
		}
		params.Cursor = next
	}
}

// Close stops the connection and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.stop != nil {
		a.stop()
	}
	close(a.inbound)
	return nil
}

// BotUserID is known after Connect.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// runWithReconnect keeps the Socket Mode connection up until ctx ends or the
// reconnect attempts run out.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.reconnect.attempts; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		wait := a.reconnect.delay(attempt)
		a.log.Warn("socket mode dropped, reconnecting",
			zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		if sleep(ctx, wait) != nil {
			return
		}
	}
	a.log.Error("socket mode gave up reconnecting", zap.Int("attempts", a.reconnect.attempts))
}

func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		api, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if api.Type == slackevents.CallbackEvent {
			a.handleCallback(api.InnerEvent.Data)
		}
	case socketmode.EventTypeConnected:
		a.log.Info("socket mode connected")
	case socketmode.EventTypeConnectionError:
		a.log.Warn("socket mode connection error", zap.Any("data", evt.Data))
	}
}

// handleCallback forwards user messages and mentions. Posts by this bot or
// any other bot, and edits or deletions, are ignored.
func (a *Adapter) handleCallback(data interface{}) {
	bot := a.BotUserID()
	switch ev := data.(type) {
	case *slackevents.MessageEvent:
		if ev.User == bot || ev.BotID != "" || ev.SubType != "" {
			return
		}
		a.emit(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text)
	case *slackevents.AppMentionEvent:
		if ev.User == bot {
			return
		}
		a.emit(ev.Channel, ev.ThreadTimeStamp, ev.TimeStamp, ev.User, ev.Text)
	}
}

// emit hands a question to the daemon. Duplicates and messages arriving
// after Close are dropped, and so is anything that finds the buffer full.
func (a *Adapter) emit(channelID, threadTS, ts, userID, text string) {
	if !a.markSeen(channelID + ":" + ts) {
		return
	}
	msg := telegraph.InboundMessage{
		Platform:  "slack",
		ChannelID: channelID,
		ThreadID:  threadTS,
		MessageID: ts,
		UserID:    userID,
		UserName:  a.resolveUserName(userID),
		Text:      text,
		Timestamp: parseSlackTimestamp(ts),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		a.log.Warn("inbound buffer full, question dropped",
			zap.String("channel", channelID), zap.String("ts", ts))
	}
}

// markSeen reports whether key is new, remembering the last seenLimit keys.
func (a *Adapter) markSeen(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.seen[key]; dup {
		return false
	}
	a.seen[key] = struct{}{}
	a.seenOrder = append(a.seenOrder, key)
	if len(a.seenOrder) > seenLimit {
		delete(a.seen, a.seenOrder[0])
		a.seenOrder = a.seenOrder[1:]
	}
	return true
}

// resolveUserName prefers the display name, then the real name, then the ID.
// Successful lookups are cached.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	a.mu.Lock()
	name, ok := a.userNames[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	for _, n := range []string{user.Profile.DisplayName, user.RealName, userID} {
		if n != "" {
			name = n
			break
		}
	}
	a.mu.Lock()
	a.userNames[userID] = name
	a.mu.Unlock()
	return name
}

func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	var opts []slackapi.MsgOption
	if msg.ThreadID != "" {
		opts = append(opts, slackapi.MsgOptionTS(msg.ThreadID))
	}
	// A dashboard summary may be attachments alone.
	if msg.Text != "" || len(msg.Events) == 0 {
		opts = append(opts, slackapi.MsgOptionText(msg.Text, false))
	}
	if len(msg.Events) > 0 {
		atts := make([]slackapi.Attachment, len(msg.Events))
		for i, evt := range msg.Events {
			atts[i] = eventToAttachment(evt)
		}
		opts = append(opts, slackapi.MsgOptionAttachments(atts...))
	}
	return opts
}

func eventToAttachment(evt telegraph.FormattedEvent) slackapi.Attachment {
	fields := make([]slackapi.AttachmentField, len(evt.Fields))
	for i, f := range evt.Fields {
		fields[i] = slackapi.AttachmentField{Title: f.Name, Value: f.Value, Short: f.Short}
	}
	return slackapi.Attachment{
		Title:    evt.Title,
		Text:     evt.Body,
		Color:    evt.Color,
		Fallback: evt.Title,
		Fields:   fields,
	}
}

// retryOnRateLimit retries fn while Slack answers with a rate limit, waiting
// the Retry-After Slack sends or the rateLimitRetry delay.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		var rle *slackapi.RateLimitedError
		if err == nil || !errors.As(err, &rle) || attempt == rateLimitRetry.attempts {
			return err
		}
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = rateLimitRetry.delay(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseSlackTimestamp turns "1700000000.000250" (seconds.microseconds) into
// a time. Unparseable input gives the zero time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	usec, _ := strconv.ParseInt(frac, 10, 64)
	return time.Unix(s, usec*int64(time.Microsecond))
}
