package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/noorsync/backend/internal/models"
)

func (c *cli) queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "queue",
		GroupID: "queue",
		Short:   "Inspect and edit the offline mutation queue",
	}
	cmd.AddCommand(
		c.queueListCmd(),
		c.queueCountCmd(),
		c.queueAddCmd(),
		c.queueRemoveCmd(),
		c.queueClearCmd(),
	)
	return cmd
}

func (c *cli) queueListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List queued mutations in replay order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, err := parseOutputFormat(output)
			if err != nil {
				return err
			}

			pending := c.app.Engine.PendingMutations(cmd.Context())
			if format != formatTable {
				return encode(c.out, format, pending)
			}

			if len(pending) == 0 {
				c.ui.printf("%s\n", c.ui.muted.Render("No pending mutations"))
				return nil
			}

			tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tQUEUED\tRETRIES\tLAST ERROR")
			for _, m := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					m.ID, m.Type, m.Entity,
					time.UnixMilli(m.Timestamp).UTC().Format(time.RFC3339),
					m.RetryCount, m.LastError)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(formatTable), "Output format: table, json or yaml")
	return cmd
}

func (c *cli) queueCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of queued mutations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(c.out, c.app.Engine.PendingCount(cmd.Context()))
			return nil
		},
	}
}

func (c *cli) queueAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add TYPE ENTITY [PAYLOAD]",
		Short: "Queue a mutation (TYPE is create, update or delete; PAYLOAD is a JSON object)",
		Example: `  noorsync queue add create bookmarks '{"verseId":"2:255"}'
  noorsync queue add delete reflections '{"id":"r-42"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]interface{}
			if len(args) == 3 {
				if err := json.Unmarshal([]byte(args[2]), &payload); err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}

			m, err := c.app.Engine.QueueMutation(cmd.Context(), models.MutationType(args[0]), args[1], payload)
			if err != nil {
				return err
			}
			c.ui.printf("%s Queued %s\n", c.ui.pass.Render("✓"), m.ID)
			return nil
		},
	}
}

func (c *cli) queueRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID...",
		Aliases: []string{"rm"},
		Short:   "Remove queued mutations by id",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := c.app.Engine.RemoveMutation(cmd.Context(), id); err != nil {
					return err
				}
				c.ui.printf("%s Removed %s\n", c.ui.pass.Render("✓"), id)
			}
			return nil
		},
	}
}

func (c *cli) queueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard every queued mutation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := c.app.Engine.PendingCount(cmd.Context())
			if err := c.app.Engine.ClearQueue(cmd.Context()); err != nil {
				return err
			}
			c.ui.printf("%s Cleared %d mutations\n", c.ui.pass.Render("✓"), n)
			return nil
		},
	}
}
