package main

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
)

func TestAsk_OneShot(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.srv.URL, "")

	out, err := runCmd(t, "", "ask", "-c", cfg, "what", "did", "we", "spend?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Answer to: what did we spend?") {
		t.Errorf("output missing answer: %s", out)
	}
	if !strings.Contains(out, "[1] Q3 report  s3://reports/q3.pdf") {
		t.Errorf("output missing titled source: %s", out)
	}
	if !strings.Contains(out, "[2] Source 2  (no link)") {
		t.Errorf("output missing fallback source: %s", out)
	}
	if got := fb.queryLog(); len(got) != 1 || got[0] != "what did we spend?" {
		t.Errorf("queries = %v", got)
	}
}

func TestAsk_Card(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.srv.URL, "")

	out, err := runCmd(t, "", "ask", "-c", cfg, "--card", "utilization-analysis")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	const question = "Identify underutilized expensive instances for potential downsizing"
	if !strings.Contains(out, "> "+question) {
		t.Errorf("output missing echoed question: %s", out)
	}
	if got := fb.queryLog(); len(got) != 1 || got[0] != question {
		t.Errorf("queries = %v", got)
	}
}

func TestAsk_UnknownCard(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.srv.URL, "")

	_, err := runCmd(t, "", "ask", "-c", cfg, "--card", "nope")
	if err == nil || !strings.Contains(err.Error(), "unknown card") {
		t.Fatalf("err = %v, want unknown card", err)
	}
	if len(fb.queryLog()) != 0 {
		t.Error("unknown card should not reach the backend")
	}
}

func TestAsk_BackendDown(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.srv.URL, "")
	fb.srv.Close()

	out, err := runCmd(t, "", "ask", "-c", cfg, "hello")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, chat.FailureText) {
		t.Errorf("output = %s, want the fallback message", out)
	}
}

func TestAsk_LinesFromStdin(t *testing.T) {
	fb := newFakeBackend(t)
	cfg := writeConfig(t, fb.srv.URL, "")

	stdin := strings.Join([]string{
		"first question",
		"",
		"/cards cost",
		"/card regional-spending",
		"/view cost",
		"/view chat",
		"/reset",
		"/bogus",
		"/quit",
		"never sent",
	}, "\n")
	out, err := runCmd(t, stdin, "ask", "-c", cfg)
	if err != nil {
		t.Fatalf("ask: %v", err)
	}

	for _, want := range []string{
		"Answer to: first question",
		"Regional Spending",
		"Answer to: Analyze spending patterns across different regions and instance types",
		"Cost Optimization Analysis",
		`"totalMonthlyCost": 1234`,
		"Back to chat.",
		"Conversation reset.",
		"Unknown command /bogus",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := fb.queryLog(); len(got) != 2 {
		t.Errorf("queries = %v, want 2", got)
	}
}

// errLines fails after its lines are consumed.
type errLines struct {
	lines []string
	err   error
}

func (e *errLines) ReadLine() (string, error) {
	if len(e.lines) == 0 {
		return "", e.err
	}
	line := e.lines[0]
	e.lines = e.lines[1:]
	return line, nil
}

func TestRunREPL_ReadError(t *testing.T) {
	ctrl := newTestController(t)
	err := runREPL(t.Context(), &errLines{err: errors.New("tty gone")}, io.Discard, ctrl, catalog.Default())
	if err == nil || !strings.Contains(err.Error(), "tty gone") {
		t.Fatalf("err = %v", err)
	}
}

func TestRunREPL_EOF(t *testing.T) {
	ctrl := newTestController(t)
	if err := runREPL(t.Context(), &errLines{err: io.EOF}, io.Discard, ctrl, catalog.Default()); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestReplCommand_Usage(t *testing.T) {
	ctrl := newTestController(t)
	cat := catalog.Default()
	tests := map[string]string{
		"/card":          "Usage: /card <id>",
		"/card nope":     "Unknown card",
		"/view":          "Usage: /view <view>",
		"/view sideways": "Unknown view",
		"/cards chat":    "Unknown dashboard",
		"/help":          "/reset",
	}
	for line, want := range tests {
		var buf bytes.Buffer
		if quit := replCommand(&buf, ctrl, cat, strings.Fields(line)); quit {
			t.Errorf("%s ended the REPL", line)
		}
		if !strings.Contains(buf.String(), want) {
			t.Errorf("%s: output %q missing %q", line, buf.String(), want)
		}
	}
	if !replCommand(io.Discard, ctrl, cat, []string{"/exit"}) {
		t.Error("/exit should end the REPL")
	}
}

func TestPrintView_Unavailable(t *testing.T) {
	var buf bytes.Buffer
	printView(&buf, catalog.Default(), chat.ViewRegions, chat.DashboardState{Unavailable: true})
	if !strings.Contains(buf.String(), "not available") {
		t.Errorf("output = %s", buf.String())
	}
}

func TestFormatIdle(t *testing.T) {
	tests := map[time.Duration]string{
		10 * time.Second:                             "<1m",
		5 * time.Minute:                              "5m",
		2*time.Hour + 7*time.Minute + 3*time.Second: "2h07m",
	}
	for d, want := range tests {
		if got := formatIdle(d); got != want {
			t.Errorf("formatIdle(%v) = %q, want %q", d, got, want)
		}
	}
}
