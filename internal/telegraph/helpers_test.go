package telegraph

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/costdesk/internal/chat"
	"github.com/zulandar/costdesk/internal/db"
	"github.com/zulandar/costdesk/internal/registry"
)

const (
	testBotID   = "UBOT"
	waitTimeout = 2 * time.Second
)

// stubBackend answers every chat query with answer. After hold, chat calls
// block until releaseAll.
type stubBackend struct {
	mu        sync.Mutex
	answer    string
	citations []chat.CitationGroup
	dashboard json.RawMessage
	dashHold  chan struct{} // when set, Dashboard waits for it to close
	release   chan struct{}
	chatErr   error
	queries   []string
}

func (b *stubBackend) Chat(ctx context.Context, query, sessionID string) (chat.Result, error) {
	b.mu.Lock()
	b.queries = append(b.queries, query)
	release := b.release
	b.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return chat.Result{}, ctx.Err()
		}
	}
	if b.chatErr != nil {
		return chat.Result{}, b.chatErr
	}
	return chat.Result{Answer: b.answer, SessionID: "backend-1", Citations: b.citations}, nil
}

func (b *stubBackend) Dashboard(ctx context.Context) (json.RawMessage, error) {
	b.mu.Lock()
	hold := b.dashHold
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dashboard == nil {
		return nil, errors.New("dashboard offline")
	}
	return b.dashboard, nil
}

func (b *stubBackend) hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release = make(chan struct{})
}

func (b *stubBackend) releaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.release != nil {
		close(b.release)
		b.release = nil
	}
}

func (b *stubBackend) queryLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.queries))
	copy(out, b.queries)
	return out
}

// newTestRegistry builds a registry over an in-memory sqlite database. It is
// shut down when the test ends.
func newTestRegistry(t *testing.T, backend chat.Backend) *registry.Registry {
	t.Helper()
	gdb, err := db.ConnectSQLite(":memory:")
	if err != nil {
		t.Fatalf("connect sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	reg, err := registry.New(registry.Opts{DB: gdb, Backend: backend})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() {
		reg.Shutdown()
		db.Close(gdb)
	})
	return reg
}

// newConnectedAdapter returns a connected MockAdapter that knows the bot ID.
func newConnectedAdapter(t *testing.T) *MockAdapter {
	t.Helper()
	adapter := NewMockAdapter()
	adapter.SetBotUserID(testBotID)
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return adapter
}

// newTestSessionManager wires a SessionManager to a fresh registry. Relays
// are stopped when the test ends.
func newTestSessionManager(t *testing.T, backend chat.Backend, adapter Adapter) (*SessionManager, *registry.Registry) {
	t.Helper()
	reg := newTestRegistry(t, backend)
	sm, err := NewSessionManager(SessionManagerOpts{
		Registry: reg,
		Adapter:  adapter,
		Platform: "slack",
	})
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	t.Cleanup(sm.CloseAll)
	return sm, reg
}

// findSent returns the first sent message whose text contains substr.
func findSent(msgs []OutboundMessage, substr string) (OutboundMessage, bool) {
	for _, m := range msgs {
		if strings.Contains(m.Text, substr) {
			return m, true
		}
	}
	return OutboundMessage{}, false
}

func isAck(text string) bool {
	for _, p := range ackPhrases {
		if text == p {
			return true
		}
	}
	return false
}

func countAcks(msgs []OutboundMessage) int {
	n := 0
	for _, m := range msgs {
		if isAck(m.Text) {
			n++
		}
	}
	return n
}
