package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/store"
)

type MessagesCmd struct {
	flags *Flags
	last  int
}

// NewMessagesCmd creates the messages command.
func NewMessagesCmd(flags *Flags) *MessagesCmd {
	return &MessagesCmd{flags: flags}
}

// Register adds the messages command to the application.
func (cmd *MessagesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "messages",
		Usage:       "List stored messages",
		UsageText:   "z-chat messages [--last N]",
		Description: "Reads the configured message store directly and prints its records as a table.",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Usage:       "only show the last N messages (0 shows all)",
				Destination: &cmd.last,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *MessagesCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config.Store

	st, err := store.Open(ctx, cfg.URI, cfg.Database, log.Logger.With().Str("component", "store").Logger())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	messages, err := st.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	if cmd.last > 0 && len(messages) > cmd.last {
		messages = messages[len(messages)-cmd.last:]
	}

	out := c.Root().Writer
	if len(messages) == 0 {
		_, _ = fmt.Fprintln(out, "No messages found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Date", "Username", "Message", "Profile Pic", "Image"})
	table.SetAutoWrapText(false)
	for _, m := range messages {
		table.Append(row(m))
	}
	table.Render()
	return nil
}

func row(m chat.Message) []string {
	return []string{
		m.ID,
		m.Date.Local().Format(time.DateTime),
		m.Username,
		m.Message,
		lo.FromPtr(m.ProfilePic),
		lo.FromPtr(m.Image),
	}
}
