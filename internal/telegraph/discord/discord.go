// Package discord connects costdesk to Discord over the Gateway. Questions
// asked in a channel get a public thread of their own; answers carry their
// sources as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/costdesk/internal/telegraph"
	"go.uber.org/zap"
)

const (
	inboundBuffer = 100
	// defaultPageSize is the ChannelMessages page size, Discord's maximum.
	defaultPageSize = 100
	// Threads the bot starts archive after a day without messages.
	threadArchiveMinutes = 1440
	maxThreadName        = 100
	defaultThreadName    = "costdesk"
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

// rateLimitRetry applies to REST calls answered with 429.
var rateLimitRetry = backoff{base: 2 * time.Second, max: 2 * time.Minute, attempts: 3}

// session is the part of *discordgo.Session the adapter calls.
type session interface {
	Open() error
	Close() error
	Channel(channelID string) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	AddHandler(handler interface{}) func()
}

// gateway is a live discordgo session. Channel lookups are served from the
// state cache instead of REST.
type gateway struct{ *discordgo.Session }

func (g gateway) Channel(channelID string) (*discordgo.Channel, error) {
	return g.State.Channel(channelID)
}

// Adapter is the Discord telegraph.Adapter.
type Adapter struct {
	sess      session
	botToken  string
	channelID string // used when an outbound message names no channel
	log       *zap.Logger
	rateLimit backoff

	mu            sync.Mutex
	botUserID     string
	connected     bool
	closed        bool
	inbound       chan telegraph.InboundMessage
	removeHandler func()
}

// AdapterOpts configures a Discord Adapter. Session replaces the real
// gateway in tests.
type AdapterOpts struct {
	BotToken  string
	ChannelID string
	Log       *zap.Logger
	Session   session
}

// New creates a Discord Adapter. Nothing is dialed until Connect.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		sess:      opts.Session,
		botToken:  opts.BotToken,
		channelID: opts.ChannelID,
		log:       log.Named("discord"),
		rateLimit: rateLimitRetry,
		inbound:   make(chan telegraph.InboundMessage, inboundBuffer),
	}, nil
}

// Connect opens the Gateway with the guild message and message content
// intents. The bot's user ID is learned from the Ready event.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return fmt.Errorf("discord: adapter already closed")
	case a.connected:
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = gateway{dg}
	}

	// Ready fires again after every reconnect; discordgo redials by itself.
	for _, h := range []interface{}{
		func(_ *discordgo.Session, r *discordgo.Ready) {
			a.SetBotUserID(r.User.ID)
			a.log.Info("gateway ready", zap.String("user", r.User.Username), zap.String("user_id", r.User.ID))
		},
		func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			a.log.Warn("gateway disconnected")
		},
		func(_ *discordgo.Session, _ *discordgo.Resumed) {
			a.log.Info("gateway resumed")
		},
	} {
		a.sess.AddHandler(h)
	}

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers the message handler and returns the questions it
// delivers.
func (a *Adapter) Listen(ctx context.Context) (<-chan telegraph.InboundMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}
	a.removeHandler = a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	return a.inbound, nil
}

// Send posts a reply. A thread is its own channel, so ThreadID wins over
// ChannelID. Events become embeds.
func (a *Adapter) Send(ctx context.Context, msg telegraph.OutboundMessage) error {
	if !a.isConnected() {
		return fmt.Errorf("discord: not connected")
	}
	target := firstNonEmpty(msg.ThreadID, msg.ChannelID, a.channelID)
	if target == "" {
		return fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	if err := a.retryOnRateLimit(ctx, func() error {
		_, err := a.sess.ChannelMessageSendComplex(target, data)
		return err
	}); err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// StartThread opens a public thread on messageID and posts replyText as its
// first message. The thread's channel ID is returned.
func (a *Adapter) StartThread(ctx context.Context, channelID, messageID, replyText, threadName string) (string, error) {
	if !a.isConnected() {
		return "", fmt.Errorf("discord: not connected")
	}
	if threadName == "" {
		threadName = defaultThreadName
	}
	if len(threadName) > maxThreadName {
		threadName = threadName[:maxThreadName]
	}
	start := &discordgo.ThreadStart{
		Name:                threadName,
		AutoArchiveDuration: threadArchiveMinutes,
		Type:                discordgo.ChannelTypeGuildPublicThread,
	}

	var thread *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() (err error) {
		thread, err = a.sess.MessageThreadStartComplex(channelID, messageID, start)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("discord: start thread: %w", err)
	}
	if replyText == "" {
		return thread.ID, nil
	}
	if err := a.Send(ctx, telegraph.OutboundMessage{ChannelID: channelID, ThreadID: thread.ID, Text: replyText}); err != nil {
		return "", fmt.Errorf("discord: start thread: %w", err)
	}
	return thread.ID, nil
}

// ThreadHistory reads the thread's channel, oldest first, keeping at most
// limit of the newest messages when limit is positive. An empty threadID
// reads channelID itself.
func (a *Adapter) ThreadHistory(ctx context.Context, channelID, threadID string, limit int) ([]telegraph.ThreadMessage, error) {
	if !a.isConnected() {
		return nil, fmt.Errorf("discord: not connected")
	}
	target := firstNonEmpty(threadID, channelID)
	pageSize := defaultPageSize
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	// Pages come newest first; before walks further back.
	var newestFirst []telegraph.ThreadMessage
	before := ""
	for {
		var page []*discordgo.Message
		err := a.retryOnRateLimit(ctx, func() (err error) {
			page, err = a.sess.ChannelMessages(target, pageSize, before, "", "")
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("discord: channel messages: %w", err)
		}
		for _, m := range page {
			newestFirst = append(newestFirst, threadMessage(m))
		}
		if limit > 0 && len(newestFirst) >= limit {
			newestFirst = newestFirst[:limit]
			break
		}
		if len(page) < pageSize {
			break
		}
		before = page[len(page)-1].ID
	}
	slices.Reverse(newestFirst)
	return newestFirst, nil
}

func threadMessage(m *discordgo.Message) telegraph.ThreadMessage {
	tm := telegraph.ThreadMessage{Text: m.Content, Timestamp: m.Timestamp}
	if m.Author != nil {
		tm.UserID = m.Author.ID
		tm.UserName = m.Author.Username
	}
	return tm
}

// Close removes the message handler, closes the inbound channel and the
// Gateway.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess == nil {
		return nil
	}
	return a.sess.Close()
}

// BotUserID is empty until the first Ready event.
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID records the bot's own user ID so its replies are not read
// back as questions.
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) isConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// handleMessage turns a human's message into a question. A message posted
// inside a thread reports the thread as its channel; the parent channel is
// taken from the state cache.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.BotUserID() {
		return
	}
	channelID, threadID := m.ChannelID, ""
	if ch, err := a.sess.Channel(m.ChannelID); err == nil && ch.IsThread() {
		channelID, threadID = ch.ParentID, m.ChannelID
	}
	sent, _ := discordgo.SnowflakeTimestamp(m.ID)
	msg := telegraph.InboundMessage{
		Platform:  "discord",
		ChannelID: channelID,
		ThreadID:  threadID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Timestamp: sent,
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
			zap.String("channel", channelID), zap.String("message_id", m.ID))
	}
}

func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: msg.Text}
	for _, evt := range msg.Events {
		data.Embeds = append(data.Embeds, eventToEmbed(evt))
	}
	return data
}

func eventToEmbed(evt telegraph.FormattedEvent) *discordgo.MessageEmbed {
	fields := make([]*discordgo.MessageEmbedField, len(evt.Fields))
	for i, f := range evt.Fields {
		fields[i] = &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Short}
	}
	return &discordgo.MessageEmbed{
		Title:       evt.Title,
		Description: evt.Body,
		Color:       parseHexColor(evt.Color),
		Fields:      fields,
	}
}

// parseHexColor reads "#36a64f" or "36a64f" as an embed color. Anything
// unparseable is 0, which Discord renders as no color.
func parseHexColor(hex string) int {
	n, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 24)
	if err != nil {
		return 0
	}
	return int(n)
}

func isRateLimited(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusTooManyRequests
}

// retryOnRateLimit retries fn while Discord answers 429, backing off between
// attempts. Other errors return at once.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !isRateLimited(err) || attempt == a.rateLimit.attempts {
			return err
		}
		wait := a.rateLimit.delay(attempt)
		a.log.Warn("rate limited, retrying", zap.Int("attempt", attempt+1), zap.Duration("wait", wait))

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func firstNonEmpty(ids ...string) string {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}
