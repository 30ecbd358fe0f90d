// ABOUTME: Interactive chat REPL driving the streaming session controller
// ABOUTME: Ctrl-C stops a streaming reply; at the prompt it exits

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/completion"
	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/session"
)

// streamPrinter writes the growing assistant reply to out as deltas are
// reconciled. It only prints while armed so that loading history stays quiet.
type streamPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	armed   bool
	msgID   int
	printed int
}

func (p *streamPrinter) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = true
	p.msgID = 0
	p.printed = 0
}

// disarm stops printing and reports whether any reply text was written.
func (p *streamPrinter) disarm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.armed = false
	return p.printed > 0
}

func (p *streamPrinter) observe(msgs []conversation.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.armed || len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant || last.Type != conversation.MessageNormal {
		return
	}
	if last.ID != p.msgID {
		p.msgID = last.ID
		p.printed = 0
	}
	if len(last.Content) > p.printed {
		fmt.Fprint(p.out, last.Content[p.printed:])
		p.printed = len(last.Content)
	}
}

func runChat(args []string) error {
	var resumeID int64
	switch len(args) {
	case 0:
	case 1:
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		resumeID = id
	default:
		return fmt.Errorf("usage: coven-chat chat [ID]")
	}

	a, err := openApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Print(banner)
	gray.Printf("    version: %s\n", version)
	gray.Printf("    store:   %s (%s)\n", a.cfg.Database.Path, a.cfg.Database.Driver)
	gray.Printf("    type /help for commands, Ctrl-C to stop a reply\n\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Surface changes made by this process (or a concurrent subcommand run through the same notifier)
	events, _ := a.notifier.Watch(ctx)
	go func() {
		for ev := range events {
			a.logger.Debug("conversation changed", "action", string(ev.Action), "id", ev.ID)
		}
	}()

	printer := &streamPrinter{out: os.Stdout}
	ctrl := session.NewController(
		a.repo,
		completion.NewEcho(a.cfg.Completion.EchoDelay, a.logger),
		a.sink,
		a.settings,
		session.Options{
			DefaultModel:        a.cfg.Chat.DefaultModel,
			DefaultInstructions: a.cfg.Chat.DefaultInstructions,
			MaxTitleLength:      a.cfg.Chat.MaxTitleLength,
			DeltaBuffer:         a.cfg.Chat.DeltaBuffer,
			SaveTimeout:         a.cfg.Chat.SaveTimeout,
			Observer:            printer.observe,
		},
		a.logger,
	)

	if resumeID != 0 {
		if err := ctrl.Select(ctx, resumeID); err == nil {
			printHistory(os.Stdout, ctrl.Messages())
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	r := &repl{app: a, ctrl: ctrl, printer: printer}
	for {
		r.prompt()

		select {
		case <-sigs:
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Println()
				return nil
			}
			quit, err := r.handle(ctx, line, sigs)
			if err != nil {
				color.New(color.FgRed).Printf("%v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

type repl struct {
	app     *app
	ctrl    *session.Controller
	printer *streamPrinter
}

func (r *repl) prompt() {
	title := "new"
	if c := r.ctrl.Conversation(); c != nil {
		title = c.Title
	}
	color.New(color.FgHiBlack).Printf("[%s] ", title)
	color.New(color.FgGreen, color.Bold).Print("> ")
}

// handle runs one input line. It reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string, sigs <-chan os.Signal) (bool, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return false, nil
	}

	if !strings.HasPrefix(text, "/") || strings.HasPrefix(text, "/error") {
		return false, r.send(ctx, text, sigs)
	}

	cmd, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		printREPLHelp()
	case "/new":
		r.ctrl.StartNew()
		fmt.Println("Started a new conversation.")
	case "/open":
		id, err := parseID(rest)
		if err != nil {
			return false, err
		}
		if err := r.ctrl.Select(ctx, id); err != nil {
			return false, nil // already reported by the sink
		}
		printHistory(os.Stdout, r.ctrl.Messages())
	case "/list":
		list, err := r.app.repo.LoadRecentSummaries(ctx, r.app.cfg.Chat.RecentLimit)
		if err != nil {
			return false, err
		}
		printSummaries(os.Stdout, list)
	case "/search":
		if rest == "" {
			return false, fmt.Errorf("usage: /search QUERY")
		}
		list, err := r.app.repo.SearchByTitle(ctx, rest)
		if err != nil {
			return false, err
		}
		printSummaries(os.Stdout, list)
	case "/rename":
		c := r.ctrl.Conversation()
		if c == nil {
			return false, fmt.Errorf("no active conversation")
		}
		if rest == "" {
			return false, fmt.Errorf("usage: /rename TITLE")
		}
		if err := r.app.repo.UpdatePartial(ctx, c.ID, conversation.Changes{Title: &rest}); err != nil {
			r.app.sink.ReportError(err, "Failed to rename conversation")
			return false, nil
		}
		r.app.sink.ReportSuccess(fmt.Sprintf("Renamed to %q", rest))
		// Reload so the controller picks up the new title
		return false, r.ctrl.Select(ctx, c.ID)
	case "/instructions":
		if err := r.app.settings.SetInstructions(rest); err != nil {
			r.app.sink.ReportError(err, "Failed to update instructions")
			return false, nil
		}
		r.app.sink.ReportSuccess("Instructions updated")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

// send submits text and blocks until the reply has finished and been saved.
// A signal while streaming cancels the reply instead of exiting.
func (r *repl) send(ctx context.Context, text string, sigs <-chan os.Signal) error {
	r.printer.arm()
	task, err := r.ctrl.Submit(ctx, text, nil)
	if err != nil {
		r.printer.disarm()
		if errors.Is(err, session.ErrBusy) {
			return err
		}
		return nil // reported by the sink
	}

	color.New(color.FgCyan).Print("  ")
	for {
		select {
		case <-task.Done():
			wrote := r.printer.disarm()
			if wrote {
				fmt.Println()
			}
			r.printOutcome(task)
			return nil
		case <-sigs:
			r.ctrl.Cancel()
		}
	}
}

func (r *repl) printOutcome(task *session.Task) {
	switch task.Outcome() {
	case session.OutcomeCancelled:
		color.New(color.FgYellow).Println("  (stopped)")
	case session.OutcomeBackendError:
		msgs := task.Messages()
		color.New(color.FgRed).Printf("  %s\n", msgs[len(msgs)-1].Content)
	}
}

func printREPLHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /new                 Start a new conversation")
	fmt.Println("  /open ID             Switch to a stored conversation")
	fmt.Println("  /list                List recent conversations")
	fmt.Println("  /search QUERY        Search conversation titles")
	fmt.Println("  /rename TITLE        Rename the active conversation")
	fmt.Println("  /instructions TEXT   Set custom instructions (empty clears)")
	fmt.Println("  /quit                Exit")
	fmt.Println()
	fmt.Println("Anything else is sent as a message. Start a message with /error to")
	fmt.Println("make the echo backend fail.")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid conversation id %q", s)
	}
	return id, nil
}
