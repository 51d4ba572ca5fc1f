package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/costdesk/internal/catalog"
	"github.com/zulandar/costdesk/internal/chat"
	"github.com/zulandar/costdesk/internal/models"
	"golang.org/x/term"
)

const replPrompt = "cdesk> "

const replHelp = `Commands:
  /cards [view]   list dashboard cards
  /card <id>      ask a card's question
  /view <view>    switch view (chat, cost, resources, regions, instances)
  /reset          start a new conversation
  /quit           leave
Anything else is sent as a question.
`

func newAskCmd() *cobra.Command {
	var (
		configPath string
		cardID     string
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a cost question from the terminal",
		Long: "With a question (or --card), answers it and exits. Without one, starts an interactive session " +
			"when stdin is a terminal, or answers one question per input line otherwise.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, configPath, cardID, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to costdesk config file")
	cmd.Flags().StringVar(&cardID, "card", "", "ask the question of a dashboard card")
	return cmd
}

func runAsk(cmd *cobra.Command, configPath, cardID, question string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	ctrl, _, err := a.reg.Open("cli:"+uuid.NewString(), models.SurfaceCLI)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	switch {
	case cardID != "":
		card, ok := a.cat.Card(cardID)
		if !ok {
			return fmt.Errorf("unknown card %q (see cdesk cards)", cardID)
		}
		fmt.Fprintf(out, "> %s\n", card.Question)
		askAndPrint(out, ctrl, func() bool { return ctrl.AskFromCard(card.Question) })
		return nil
	case strings.TrimSpace(question) != "":
		askAndPrint(out, ctrl, func() bool { return ctrl.Send(question) })
		return nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runTerminalREPL(ctx, f, out, ctrl, a.cat)
	}
	return runREPL(ctx, &scannerLines{s: bufio.NewScanner(in)}, out, ctrl, a.cat)
}

// lineReader yields input lines. io.EOF ends the session.
type lineReader interface {
	ReadLine() (string, error)
}

// scannerLines reads lines from a non-terminal input.
type scannerLines struct {
	s *bufio.Scanner
}

func (l *scannerLines) ReadLine() (string, error) {
	if l.s.Scan() {
		return l.s.Text(), nil
	}
	if err := l.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// runTerminalREPL puts the terminal in raw mode and runs the REPL through an
// x/term line editor.
func runTerminalREPL(ctx context.Context, f *os.File, out io.Writer, ctrl *chat.Controller, cat *catalog.Catalog) error {
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("ask: raw terminal: %w", err)
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{f, out}, replPrompt)
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}
	fmt.Fprint(t, "Ask about your cloud costs. /help lists commands.\n")
	return runREPL(ctx, t, t, ctrl, cat)
}

// runREPL reads lines until /quit, EOF, or ctx is cancelled.
func runREPL(ctx context.Context, lines lineReader, out io.Writer, ctrl *chat.Controller, cat *catalog.Catalog) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := lines.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ask: read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			askAndPrint(out, ctrl, func() bool { return ctrl.Send(line) })
			continue
		}
		if quit := replCommand(out, ctrl, cat, strings.Fields(line)); quit {
			return nil
		}
	}
}

// replCommand runs one slash command. It reports whether the REPL should end.
func replCommand(out io.Writer, ctrl *chat.Controller, cat *catalog.Catalog, fields []string) bool {
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprint(out, replHelp)
	case "/cards":
		var view chat.View
		if len(fields) > 1 {
			v, err := chat.ParseView(fields[1])
			if err != nil || !v.IsDashboard() {
				fmt.Fprintf(out, "Unknown dashboard %q.\n", fields[1])
				return false
			}
			view = v
		}
		printCards(out, cat, view)
	case "/card":
		if len(fields) < 2 {
			fmt.Fprintln(out, "Usage: /card <id>")
			return false
		}
		card, ok := cat.Card(fields[1])
		if !ok {
			fmt.Fprintf(out, "Unknown card %q. Try /cards.\n", fields[1])
			return false
		}
		fmt.Fprintf(out, "> %s\n", card.Question)
		askAndPrint(out, ctrl, func() bool { return ctrl.AskFromCard(card.Question) })
	case "/view":
		if len(fields) < 2 {
			fmt.Fprintln(out, "Usage: /view <view>")
			return false
		}
		v, err := chat.ParseView(fields[1])
		if err != nil {
			fmt.Fprintf(out, "Unknown view %q.\n", fields[1])
			return false
		}
		ctrl.SetView(v)
		ctrl.Wait()
		printView(out, cat, v, ctrl.Snapshot().Dashboard)
	case "/reset":
		ctrl.Reset()
		fmt.Fprintln(out, "Conversation reset.")
	default:
		fmt.Fprintf(out, "Unknown command %s. /help lists commands.\n", fields[0])
	}
	return false
}

// askAndPrint runs submit, waits for the turn to finish, and prints the
// messages it added.
func askAndPrint(out io.Writer, ctrl *chat.Controller, submit func() bool) {
	before := len(ctrl.Snapshot().History)
	if !submit() {
		fmt.Fprintln(out, "Still working on your previous question.")
		return
	}
	ctrl.Wait()

	history := ctrl.Snapshot().History
	if before > len(history) {
		before = 0
	}
	for _, m := range history[before:] {
		if m.Sender == chat.SenderAssistant {
			printAnswer(out, m)
		}
	}
}

// printAnswer writes an assistant message and its sources.
func printAnswer(out io.Writer, m chat.Message) {
	fmt.Fprintf(out, "\n%s\n", m.Text)
	if len(m.Citations) == 0 {
		fmt.Fprintln(out)
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, c := range m.Citations {
		uri := c.URI
		if uri == chat.PlaceholderURI {
			uri = "(no link)"
		}
		fmt.Fprintf(out, "  [%d] %s  %s\n", i+1, c.Title, uri)
	}
	fmt.Fprintln(out)
}

// printView describes the view just switched to.
func printView(out io.Writer, cat *catalog.Catalog, v chat.View, dash chat.DashboardState) {
	if !v.IsDashboard() {
		fmt.Fprintln(out, "Back to chat.")
		return
	}
	title := string(v)
	if d, ok := cat.Dashboard(v); ok {
		title = d.Title
	}
	fmt.Fprintf(out, "%s\n", title)
	switch {
	case dash.Unavailable:
		fmt.Fprintln(out, "Dashboard data is not available right now.")
	case dash.Available():
		var buf bytes.Buffer
		if err := json.Indent(&buf, dash.Data, "", "  "); err != nil {
			fmt.Fprintf(out, "%s\n", dash.Data)
		} else {
			fmt.Fprintf(out, "%s\n", buf.String())
		}
	}
	printCards(out, cat, v)
}
