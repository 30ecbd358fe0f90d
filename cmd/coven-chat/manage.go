// ABOUTME: Non-interactive subcommands for listing, searching and pruning conversations
// ABOUTME: Each command opens the store, performs one repository call and exits

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/conversation"
	"github.com/2389/coven-chat/internal/store"
)

func runManage(ctx context.Context, name string, args []string) error {
	run, ok := manageCommands[name]
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	a, err := openApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	return run(ctx, a, args)
}

var manageCommands = map[string]func(context.Context, *app, []string) error{
	"list":         runList,
	"search":       runSearch,
	"show":         runShow,
	"rename":       runRename,
	"move":         runMove,
	"delete":       runDelete,
	"delete-group": runDeleteGroup,
	"clear":        runClear,
	"settings":     runSettings,
}

func runList(ctx context.Context, a *app, args []string) error {
	limit := a.cfg.Chat.RecentLimit
	var group int64
	grouped := false

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--limit" || arg == "--group":
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", arg)
			}
			n, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", arg, err)
			}
			if arg == "--limit" {
				limit = int(n)
			} else {
				group = n
				grouped = true
			}
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if grouped {
		list, err := a.repo.ListByGroup(ctx, group)
		if err != nil {
			return err
		}
		printSummaries(os.Stdout, list)
		return nil
	}

	list, err := a.repo.LoadRecentSummaries(ctx, limit)
	if err != nil {
		return err
	}
	printSummaries(os.Stdout, list)
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	content := false
	var terms []string
	for _, arg := range args {
		if arg == "--content" {
			content = true
			continue
		}
		terms = append(terms, arg)
	}
	query := strings.Join(terms, " ")
	if query == "" {
		return fmt.Errorf("usage: coven-chat search [--content] QUERY")
	}

	var (
		list []*store.Conversation
		err  error
	)
	if content {
		list, err = a.repo.SearchContent(ctx, query)
	} else {
		list, err = a.repo.SearchByTitle(ctx, query)
	}
	if err != nil {
		return err
	}
	printSummaries(os.Stdout, list)
	return nil
}

func runShow(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: coven-chat show ID")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	c, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	msgs, err := a.repo.GetMessages(c)
	if err != nil {
		return err
	}

	color.New(color.FgCyan, color.Bold).Println(c.Title)
	color.New(color.FgHiBlack).Printf("id %d  group %d  model %s  created %s\n",
		c.ID, c.GroupID, c.Model, formatCreated(c.CreatedAt))
	if c.SystemPrompt != "" {
		color.New(color.FgHiBlack).Printf("instructions: %s\n", c.SystemPrompt)
	}
	fmt.Println()
	printHistory(os.Stdout, msgs)
	return nil
}

func runRename(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: coven-chat rename ID TITLE")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	title := strings.TrimSpace(strings.Join(args[1:], " "))
	if title == "" {
		return fmt.Errorf("title cannot be empty")
	}

	if err := a.repo.UpdatePartial(ctx, id, conversation.Changes{Title: &title}); err != nil {
		return a.fail(err, fmt.Sprintf("Failed to rename conversation %d", id))
	}
	a.sink.ReportSuccess(fmt.Sprintf("Renamed %d to %q", id, title))
	return nil
}

func runMove(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: coven-chat move ID GROUP")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	group, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid group %q", args[1])
	}

	if err := a.repo.UpdatePartial(ctx, id, conversation.Changes{GroupID: &group}); err != nil {
		return a.fail(err, fmt.Sprintf("Failed to move conversation %d", id))
	}
	a.sink.ReportSuccess(fmt.Sprintf("Moved %d to group %d", id, group))
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: coven-chat delete ID")
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	if err := a.repo.Delete(ctx, id); err != nil {
		return a.fail(err, fmt.Sprintf("Failed to delete conversation %d", id))
	}
	a.sink.ReportSuccess(fmt.Sprintf("Deleted conversation %d", id))
	return nil
}

func runDeleteGroup(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: coven-chat delete-group GROUP")
	}
	group, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid group %q", args[0])
	}

	n, err := a.repo.CountByGroup(ctx, group)
	if err != nil {
		return a.fail(err, fmt.Sprintf("Failed to count conversations in group %d", group))
	}
	if err := a.repo.DeleteByGroup(ctx, group); err != nil {
		return a.fail(err, fmt.Sprintf("Failed to delete group %d", group))
	}
	a.sink.ReportSuccess(fmt.Sprintf("Deleted %d conversation(s) in group %d", n, group))
	return nil
}

func runClear(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 || args[0] != "--yes" {
		return fmt.Errorf("this deletes every conversation; rerun as: coven-chat clear --yes")
	}
	if err := a.repo.DeleteAll(ctx); err != nil {
		return a.fail(err, "Failed to delete conversations")
	}
	a.sink.ReportSuccess("All conversations deleted")
	return nil
}

func runSettings(_ context.Context, a *app, args []string) error {
	if len(args) == 0 {
		fmt.Printf("file:         %s\n", a.settings.Path())
		fmt.Printf("theme:        %s\n", a.settings.Theme())
		instructions := a.settings.Instructions()
		if instructions == "" {
			instructions = color.HiBlackString("(none)")
		}
		fmt.Printf("instructions: %s\n", instructions)
		return nil
	}

	if len(args) < 2 {
		return fmt.Errorf("usage: coven-chat settings [instructions TEXT | theme light|dark|system]")
	}
	value := strings.Join(args[1:], " ")

	var err error
	switch args[0] {
	case "instructions":
		err = a.settings.SetInstructions(value)
	case "theme":
		err = a.settings.SetTheme(value)
	default:
		return fmt.Errorf("unknown setting %q", args[0])
	}
	if err != nil {
		return a.fail(err, fmt.Sprintf("Failed to update %s", args[0]))
	}
	a.sink.ReportSuccess(fmt.Sprintf("Updated %s", args[0]))
	return nil
}

func printSummaries(out io.Writer, list []*store.Conversation) {
	if len(list) == 0 {
		fmt.Fprintln(out, color.HiBlackString("no conversations"))
		return
	}
	for _, c := range list {
		fmt.Fprintf(out, "%s  %s  %s\n",
			color.CyanString("%d", c.ID),
			color.HiBlackString(formatCreated(c.CreatedAt)),
			c.Title,
		)
	}
}

func printHistory(out io.Writer, msgs []conversation.ChatMessage) {
	for _, m := range msgs {
		switch {
		case m.Type == conversation.MessageError:
			fmt.Fprintln(out, color.RedString("  ! %s", m.Content))
		case m.Role == conversation.RoleUser:
			fmt.Fprintf(out, "%s %s\n", color.New(color.FgGreen, color.Bold).Sprint(">"), m.Content)
			for _, att := range m.Attachments {
				fmt.Fprintln(out, color.HiBlackString("  [%s %s]", att.Filename, att.MimeType))
			}
		default:
			fmt.Fprintf(out, "  %s\n", m.Content)
		}
	}
}

func formatCreated(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
