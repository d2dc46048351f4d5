package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dukex/handoff/pkg/cmd"
	"github.com/dukex/handoff/pkg/directory"
	"github.com/dukex/handoff/pkg/engine"
	"github.com/dukex/handoff/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the hand-off history of an instance",
		ArgsUsage: "<instance-id>",
		Action:    printHistory,
	}
}

func printHistory(ctx context.Context, command *cli.Command) error {
	instanceID, err := argument(command, "instance-id")
	if err != nil {
		return err
	}

	logger := log.WithModule("cli")

	p, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := p.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	// Reading history never consults the directory.
	eng := engine.New(p, directory.NewStaticDirectory(directory.Roster{}), logger)

	entries, err := eng.History(ctx, instanceID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(entries))

	for _, entry := range entries {
		to := entry.ToLabel
		if to == "" {
			to = "-"
		}

		rows = append(rows, []string{
			strconv.FormatInt(entry.Sequence, 10),
			entry.HandedOffAt.Format(time.RFC3339),
			entry.FromLabel,
			to,
			entry.ActorID,
			entry.Notes,
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "WHEN", "FROM", "TO", "ACTOR", "NOTES").
		Rows(rows...)

	_, err = fmt.Fprintln(command.Root().Writer, t.Render())

	return err
}
