package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pable/go-rl-metrics/internal/report"
	"github.com/pable/go-rl-metrics/internal/storage"
)

var (
	cPrompt   = color.New(color.FgCyan, color.Bold)
	cMuted    = color.New(color.Faint)
	cError    = color.New(color.FgRed, color.Bold)
	cWarn     = color.New(color.FgYellow)
	cCmd      = color.New(color.FgYellow, color.Bold)
	cGreeting = color.New(color.Bold)
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Start an interactive REPL session",
	Long:  "Open a persistent session against the database. Type 'help' for available commands.",
	Args:  cobra.NoArgs,
	RunE:  runShell,
}

func runShell(_ *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	cGreeting.Println("rlmetrics shell")
	cMuted.Println("type 'help' or 'exit'")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		cPrompt.Print("rlmetrics")
		cMuted.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := strings.Fields(line)
		cmd, args := tokens[0], tokens[1:]

		switch cmd {
		case "exit", "quit":
			return nil
		case "help":
			shellHelp()
		case "list":
			shellList(db)
		case "show":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: show <hash-prefix> [--player <name>]")
				continue
			}
			var player string
			for i := 1; i+1 < len(args); i++ {
				if args[i] == "--player" {
					player = args[i+1]
				}
			}
			if err := showByHash(db, args[0], player); err != nil {
				cError.Fprintf(os.Stderr, "error: %v\n", err)
			}
		case "trend":
			if len(args) == 0 {
				cError.Fprintln(os.Stderr, "usage: trend <player> [<player>...]")
				continue
			}
			shellTrend(db, args)
		default:
			cWarn.Fprintf(os.Stderr, "unknown command %q, type 'help'\n", cmd)
		}
	}
	return nil
}

func shellHelp() {
	fmt.Println()
	type entry struct{ cmd, desc string }
	rows := []entry{
		{"list", "list all stored sessions"},
		{"show <hash-prefix>", "show a session's grades and events"},
		{"show <hash-prefix> --player <name>", "same, for one player only"},
		{"trend <player> [...]", "per-session history for one or more players"},
		{"help", "show this message"},
		{"exit / quit", "close the session"},
	}
	for _, r := range rows {
		fmt.Print("  ")
		cCmd.Printf("%-38s", r.cmd)
		fmt.Println(r.desc)
	}
	fmt.Println()
}

func shellList(db *storage.DB) {
	sessions, err := db.ListSessions()
	if err != nil {
		cError.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	if len(sessions) == 0 {
		cMuted.Println("No sessions stored yet.")
		return
	}
	report.PrintSessionList(os.Stdout, sessions)
}

func shellTrend(db *storage.DB, players []string) {
	for _, p := range players {
		rows, err := db.PlayerTrend(p)
		if err != nil {
			cError.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		if len(rows) == 0 {
			cWarn.Fprintf(os.Stderr, "no sessions for %s\n", p)
			continue
		}
		report.Section(os.Stdout, "Trend: "+p)
		report.PrintTrendTable(os.Stdout, rows)
	}
}
