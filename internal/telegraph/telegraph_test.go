package telegraph

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewDaemon_NilRegistry(t *testing.T) {
	_, err := NewDaemon(DaemonOpts{Adapter: NewMockAdapter()})
	if err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestNewDaemon_NilAdapter(t *testing.T) {
	reg := newTestRegistry(t, &stubBackend{})
	_, err := NewDaemon(DaemonOpts{Registry: reg})
	if err == nil {
		t.Fatal("expected error for nil adapter")
	}
}

func TestNewDaemon_Success(t *testing.T) {
	reg := newTestRegistry(t, &stubBackend{})
	d, err := NewDaemon(DaemonOpts{
		Registry: reg,
		Adapter:  NewMockAdapter(),
		Platform: "slack",
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if d.cat == nil || d.log == nil || d.out == nil {
		t.Error("defaults not applied")
	}
}

// startDaemon runs a daemon in the background and returns a stop function
// that cancels it and waits for Run to return.
func startDaemon(t *testing.T, backend *stubBackend, adapter *MockAdapter, channel string) (*bytes.Buffer, func() error) {
	t.Helper()
	reg := newTestRegistry(t, backend)
	var out bytes.Buffer
	d, err := NewDaemon(DaemonOpts{
		Registry: reg,
		Adapter:  adapter,
		Platform: "slack",
		Channel:  channel,
		Out:      &out,
	})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	stop := func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
			return nil
		}
	}
	return &out, stop
}

func TestDaemonRun_AnswersMention(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.SetBotUserID(testBotID)
	backend := &stubBackend{answer: "Your bill is $10."}
	out, stop := startDaemon(t, backend, adapter, "")

	adapter.SimulateInbound(InboundMessage{
		Platform:  "slack",
		ChannelID: "C1",
		MessageID: "m1",
		UserID:    "U1",
		Text:      "<@" + testBotID + "> how big is my bill?",
	})
	if !adapter.WaitForSent(2, waitTimeout) {
		t.Fatalf("sent %d messages, want ack and answer", adapter.SentCount())
	}
	if _, ok := findSent(adapter.AllSent(), "Your bill is $10."); !ok {
		t.Error("answer was not posted")
	}

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "Telegraph online (slack)") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "Telegraph stopped") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDaemonRun_PostsNotices(t *testing.T) {
	adapter := NewMockAdapter()
	_, stop := startDaemon(t, &stubBackend{}, adapter, "C-ops")

	if !adapter.WaitForSent(1, waitTimeout) {
		t.Fatal("online notice was not posted")
	}
	online, _ := adapter.LastSent()
	if online.ChannelID != "C-ops" || !strings.Contains(online.Text, "online") {
		t.Errorf("online notice = %+v", online)
	}

	if err := stop(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := findSent(adapter.AllSent(), "going offline"); !ok {
		t.Error("offline notice was not posted")
	}
}

func TestDaemonRun_InboundClosed(t *testing.T) {
	adapter := NewMockAdapter()
	reg := newTestRegistry(t, &stubBackend{})
	var out bytes.Buffer
	d, err := NewDaemon(DaemonOpts{Registry: reg, Adapter: adapter, Channel: "C-ops", Out: &out})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(context.Background()) }()

	// The online notice follows Listen.
	if !adapter.WaitForSent(1, waitTimeout) {
		t.Fatal("daemon did not come online")
	}
	adapter.Close()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the inbound channel closed")
	}
	if !strings.Contains(out.String(), "inbound channel closed") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDaemonRun_ConnectError(t *testing.T) {
	adapter := NewMockAdapter()
	adapter.Close()
	reg := newTestRegistry(t, &stubBackend{})
	d, err := NewDaemon(DaemonOpts{Registry: reg, Adapter: adapter, Out: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected connect error")
	}
}
