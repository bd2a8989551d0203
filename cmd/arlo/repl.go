package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"arlo/internal/memory"
	"arlo/internal/scheduler"
)

var (
	cyan    = color.New(color.FgCyan).SprintFunc()
	green   = color.New(color.FgGreen).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	dim     = color.New(color.FgHiBlack).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
)

const helpText = `Commands:
  /help                      show this help
  /tools                     list registered tools
  /history                   show recent conversations
  /objective [show]          show the active project's objective
  /objective set <text>      set the active project's objective
  /objective clear           clear the active project's objective
  /schedule list             list scheduled tasks and reminders
  /schedule upcoming         next scheduled fires
  /schedule cancel <id>      cancel an item
  /schedule pause <id>       pause an item
  /schedule resume <id>      resume a paused item
  /improvements [N]          last N improvement attempts (default 5)
  /exit | /quit | /q         leave

Anything else goes to the agent. Prefix with #project-slug to switch
projects.`

func runREPL(ctx context.Context, a *app) error {
	fmt.Println(bold(cyan("arlo")) + dim(" — agent runtime. /help for commands."))

	showMissedReminders(a)

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            bold("you> "),
		HistoryFile:       filepath.Join(homeDir, ".arlo_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	for {
		drainReminders(a)

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				fmt.Println(dim("bye"))
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Println(dim("bye"))
			return nil
		}
		if err != nil {
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if exit := handleCommand(a, input); exit {
				return nil
			}
			continue
		}

		runPrompt(ctx, a, input)
	}
}

// showMissedReminders surfaces reminders that came due while the process
// was down.
func showMissedReminders(a *app) {
	due, err := a.store.DueItems(time.Now())
	if err != nil {
		return
	}
	for _, item := range due {
		if item.Type != memory.ItemReminder {
			continue
		}
		fmt.Printf("%s %s %s\n", magenta("[missed reminder]"), item.Title,
			dim("(was due "+item.NextRunAt.Format("2006-01-02 15:04")+")"))
	}
}

func drainReminders(a *app) {
	for _, r := range a.orch.Reminders().PopAll() {
		fmt.Printf("%s %s %s\n", magenta("[reminder]"), r.Title,
			dim(r.DueAt.Format("15:04")))
	}
}

func runPrompt(ctx context.Context, a *app, input string) {
	start := time.Now()
	response, err := a.orch.Run(ctx, input, "user")
	if err != nil {
		fmt.Println(red("error: " + err.Error()))
		if flagVerbose {
			fmt.Println(dim(fmt.Sprintf("%+v", err)))
		}
		return
	}
	fmt.Println()
	fmt.Println(response)
	fmt.Println(dim(fmt.Sprintf("✓ %d tokens in %s", a.orch.LastRunTokens(),
		time.Since(start).Round(time.Millisecond))))
	fmt.Println()
}

// handleCommand dispatches slash commands. Returns true on exit.
func handleCommand(a *app, input string) bool {
	parts := strings.Fields(input)
	switch strings.ToLower(parts[0]) {
	case "/exit", "/quit", "/q":
		fmt.Println(dim("bye"))
		return true
	case "/help":
		fmt.Println(helpText)
	case "/tools":
		for _, name := range a.registry.Names() {
			fmt.Println("  " + name)
		}
	case "/history":
		showHistory(a)
	case "/objective":
		handleObjective(a, parts[1:])
	case "/schedule":
		handleSchedule(a, parts[1:])
	case "/improvements":
		showImprovements(a, parts[1:])
	default:
		fmt.Println(yellow("unknown command " + parts[0] + ", try /help"))
	}
	return false
}

func showHistory(a *app) {
	convs, err := a.store.RecentConversations(10)
	if err != nil {
		fmt.Println(red("error: " + err.Error()))
		return
	}
	if len(convs) == 0 {
		fmt.Println(dim("no history yet"))
		return
	}
	for _, c := range convs {
		fmt.Printf("%s %s\n", bold("you:"), clip(c.UserMsg, 100))
		fmt.Printf("%s %s\n\n", green("agent:"), clip(c.AgentMsg, 200))
	}
}

func handleObjective(a *app, args []string) {
	p := a.orch.Session().ActiveProject()
	if p == nil {
		fmt.Println(yellow("no active project; switch with #slug or the project tools"))
		return
	}
	sub := "show"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "show":
		if p.Objective == "" {
			fmt.Println(dim("project " + p.Name + " has no objective; set one with /objective set <text>"))
			return
		}
		fmt.Printf("%s %s\n%s\n", bold("objective for"), p.Name, p.Objective)
	case "set":
		if len(args) < 2 {
			fmt.Println(yellow("usage: /objective set <text>"))
			return
		}
		text := strings.Join(args[1:], " ")
		if err := a.store.SetObjective(p.ID, text); err != nil {
			fmt.Println(red("error: " + err.Error()))
			return
		}
		p.Objective = text
		a.orch.Session().SetActiveProject(p)
		fmt.Println(green("objective updated for " + p.Name))
	case "clear":
		if err := a.store.SetObjective(p.ID, ""); err != nil {
			fmt.Println(red("error: " + err.Error()))
			return
		}
		p.Objective = ""
		a.orch.Session().SetActiveProject(p)
		fmt.Println(green("objective cleared for " + p.Name))
	default:
		fmt.Println(yellow("usage: /objective [show|set <text>|clear]"))
	}
}

func handleSchedule(a *app, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	switch sub {
	case "list":
		items, err := a.store.ListScheduledItems()
		if err != nil {
			fmt.Println(red("error: " + err.Error()))
			return
		}
		printItems(items)
	case "upcoming":
		items, err := a.store.UpcomingItems(10)
		if err != nil {
			fmt.Println(red("error: " + err.Error()))
			return
		}
		printItems(items)
	case "cancel", "pause", "resume":
		if len(args) < 2 {
			fmt.Println(yellow("usage: /schedule " + sub + " <id>"))
			return
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println(yellow("invalid id " + args[1]))
			return
		}
		target := map[string]string{
			"cancel": memory.StatusCancelled,
			"pause":  memory.StatusPaused,
			"resume": memory.StatusActive,
		}[sub]
		if err := a.store.SetItemStatus(id, target); err != nil {
			fmt.Println(red("error: " + err.Error()))
			return
		}
		fmt.Println(green(fmt.Sprintf("item %d %sd", id, sub)))
	default:
		fmt.Println(yellow("usage: /schedule list|upcoming|cancel|pause|resume"))
	}
}

func printItems(items []memory.ScheduledItem) {
	if len(items) == 0 {
		fmt.Println(dim("nothing scheduled"))
		return
	}
	for _, it := range items {
		next := "-"
		if !it.NextRunAt.IsZero() {
			next = it.NextRunAt.Format("2006-01-02 15:04")
		}
		fmt.Printf("  [%d] %s %s\n      %s | next %s | runs %d\n",
			it.ID, it.Title, dim("("+it.Type+", "+it.Status+")"),
			scheduler.Describe(it.Schedule), next, it.RunCount)
	}
}

func showImprovements(a *app, args []string) {
	n := 5
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed > 0 {
			n = parsed
		}
	}
	attempts, err := a.store.RecentAttempts(n)
	if err != nil {
		fmt.Println(red("error: " + err.Error()))
		return
	}
	if len(attempts) == 0 {
		fmt.Println(dim("no improvement attempts yet"))
		return
	}
	for _, at := range attempts {
		status := dim("no changes")
		if at.Merged {
			status = green(fmt.Sprintf("merged %d files", len(at.ChangedFiles)))
		} else if at.Error != "" {
			status = red("failed: " + clip(at.Error, 80))
		}
		fmt.Printf("  cycle %d %s %s %s\n", at.Cycle, dim(at.Branch), status,
			dim(fmt.Sprintf("(%d tokens)", at.TokensUsed)))
	}
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
