package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rsbridge/internal/cache"
)

var (
	sweepDays int
	clearYes  bool
)

func init() {
	cacheSweepCmd.Flags().IntVar(&sweepDays, "days", 30, "remove entries not used for this many days")
	cacheClearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "do not ask for confirmation")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheSweepCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the artifact cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache size and age",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		st, err := store.Stats()
		if err != nil {
			return err
		}
		colored, err := useColor(cmd, os.Stdout)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderStats(store.Root(), st, colored, time.Now()))
		return nil
	},
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove entries older than --days",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if sweepDays < 0 {
			return fmt.Errorf("--days must not be negative")
		}
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		n, err := store.Sweep(sweepDays)
		if err != nil {
			return err
		}
		if !quiet(cmd) {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d %s\n", n, plural(n, "entry", "entries"))
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached artifact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		if !clearYes {
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("clear %s?", store.Root()))
			if err != nil || !ok {
				return err
			}
		}
		return store.Clear()
	},
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// renderStats draws the summary box printed by `cache stats`.
func renderStats(root string, st cache.Stats, colored bool, now time.Time) string {
	label := lipgloss.NewStyle().Bold(true).Width(8)
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)
	if colored {
		label = label.Foreground(lipgloss.Color("6"))
		box = box.BorderForeground(lipgloss.Color("8"))
	}

	age := func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return humanize.RelTime(t, now, "ago", "from now")
	}
	rows := [][2]string{
		{"root", root},
		{"entries", fmt.Sprintf("%d", st.Entries)},
		{"size", humanize.IBytes(uint64(max(st.Bytes, 0)))},
		{"oldest", age(st.Oldest)},
		{"newest", age(st.Newest)},
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = lipgloss.JoinHorizontal(lipgloss.Top, label.Render(r[0]), r[1])
	}
	return box.Render(strings.Join(lines, "\n"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
