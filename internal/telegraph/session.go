package telegraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
	"github.com/zulandar/costdesk/internal/registry"
	"go.uber.org/zap"
)

// relayBuffer sizes the event channel of each relay goroutine.
const relayBuffer = 64

// SessionManager maps chat threads to registry sessions and relays each
// session's answers back into its thread.
type SessionManager struct {
	reg      *registry.Registry
	adapter  Adapter
	cat      *catalog.Catalog
	platform string
	log      *zap.Logger

	mu     sync.Mutex
	relays map[string]*chat.Controller // controller each running relay follows
	wg     sync.WaitGroup
}

// SessionManagerOpts holds parameters for creating a SessionManager.
type SessionManagerOpts struct {
	Registry *registry.Registry
	Adapter  Adapter
	Catalog  *catalog.Catalog // defaults to the built-in catalog
	Platform string           // registry surface, e.g. "slack"
	Log      *zap.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(opts SessionManagerOpts) (*SessionManager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("telegraph: session manager: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: session manager: adapter is required")
	}
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	platform := opts.Platform
	if platform == "" {
		platform = "chat"
	}
	return &SessionManager{
		reg:      opts.Registry,
		adapter:  opts.Adapter,
		cat:      cat,
		platform: platform,
		log:      log,
		relays:   make(map[string]*chat.Controller),
	}, nil
}

// sessionKey builds the registry key for a thread.
func sessionKey(channelID, threadID string) string {
	return channelID + ":" + threadID
}

// replyThread returns the thread to post into. Top-level sessions are keyed
// by their channel ID and reply at the top level.
func replyThread(channelID, threadID string) string {
	if threadID == channelID {
		return ""
	}
	return threadID
}

// Open returns the session for a thread, creating it and starting its relay
// on first use.
func (sm *SessionManager) Open(ctx context.Context, channelID, threadID string) (*chat.Controller, error) {
	key := sessionKey(channelID, threadID)
	ctrl, created, err := sm.reg.Open(key, sm.platform)
	if err != nil {
		return nil, fmt.Errorf("telegraph: open session: %w", err)
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.relays[key] == ctrl {
		return ctrl, nil
	}
	// Subscribe before returning so no answer can be missed.
	events, _ := ctrl.Subscribe(relayBuffer)
	sm.relays[key] = ctrl
	sm.wg.Add(1)
	go sm.relay(ctx, key, ctrl, channelID, threadID, events)

	if created {
		sm.log.Info("thread session opened", zap.String("session_key", key))
	}
	return ctrl, nil
}

// Get returns the live session for a thread.
func (sm *SessionManager) Get(channelID, threadID string) (*chat.Controller, bool) {
	return sm.reg.Get(sessionKey(channelID, threadID))
}

// HasSession reports whether a thread has a live session.
func (sm *SessionManager) HasSession(channelID, threadID string) bool {
	_, ok := sm.Get(channelID, threadID)
	return ok
}

// CloseSession ends the session of a thread.
func (sm *SessionManager) CloseSession(channelID, threadID string) error {
	if err := sm.reg.Close(sessionKey(channelID, threadID)); err != nil {
		return fmt.Errorf("telegraph: close session: %w", err)
	}
	return nil
}

// CloseAll ends every session this manager relays for and waits for the
// relays to exit.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	keys := make([]string, 0, len(sm.relays))
	for k := range sm.relays {
		keys = append(keys, k)
	}
	sm.mu.Unlock()

	for _, k := range keys {
		// Already-reaped sessions report not found.
		_ = sm.reg.Close(k)
	}
	sm.wg.Wait()
}

// relay posts assistant messages and dashboard loads to the thread until the
// session ends.
func (sm *SessionManager) relay(ctx context.Context, key string, ctrl *chat.Controller, channelID, threadID string, events <-chan chat.Event) {
	defer sm.wg.Done()
	defer func() {
		sm.mu.Lock()
		// A reopened session may already have its own relay.
		if sm.relays[key] == ctrl {
			delete(sm.relays, key)
		}
		sm.mu.Unlock()
	}()

	thread := replyThread(channelID, threadID)
	for evt := range events {
		switch evt.Kind {
		case chat.EventAssistantMessage:
			h := evt.Session.History
			if len(h) == 0 {
				continue
			}
			for _, out := range FormatAssistantMessage(channelID, thread, h[len(h)-1]) {
				if err := sm.adapter.Send(ctx, out); err != nil {
					sm.log.Warn("relay answer", zap.String("session_key", key), zap.Error(err))
				}
			}
		case chat.EventDashboard:
			out := OutboundMessage{
				ChannelID: channelID,
				ThreadID:  thread,
				Events:    []FormattedEvent{FormatDashboard(sm.dashboardTitle(evt.Session.ActiveView), evt.Session.Dashboard)},
			}
			if err := sm.adapter.Send(ctx, out); err != nil {
				sm.log.Warn("relay dashboard", zap.String("session_key", key), zap.Error(err))
			}
		}
	}
	sm.log.Debug("relay stopped", zap.String("session_key", key))
}

// dashboardTitle names the dashboard of a view.
func (sm *SessionManager) dashboardTitle(v chat.View) string {
	if d, ok := sm.cat.Dashboard(v); ok && d.Title != "" {
		return d.Title
	}
	return "Dashboard"
}
