package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/noorsync/backend/internal/models"
)

func (c *cli) syncCmd() *cobra.Command {
	var replayOnly bool

	cmd := &cobra.Command{
		Use:     "sync",
		GroupID: "sync",
		Short:   "Pull server content and replay queued mutations",
		Long: `Run a full sync against the configured server.

A full sync:
  1. Pulls every content type changed since its last sync into the local cache
  2. Replays queued mutations in the order they were made
  3. Records a new sync timestamp for every content type that pulled cleanly

Only one sync runs at a time per data directory. Use --replay-only to skip
the content pull.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			u := c.ui

			if replayOnly {
				res, err := c.app.Engine.ReplayMutations(ctx)
				if err != nil {
					return err
				}
				u.printf("%s %d replayed, %d failed, %d discarded\n",
					u.accent.Render("Mutations:"), res.Replayed, res.Failed, res.Discarded)
				return nil
			}

			u.printf("%s Syncing with %s...\n", u.accent.Render("→"), c.app.Config.Remote.BaseURL)
			result := c.app.Engine.PerformFullSync(ctx)
			c.printResult(result)

			if !result.Success {
				return fmt.Errorf("sync failed: %s", strings.Join(result.Errors, "; "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replayOnly, "replay-only", false, "Only replay queued mutations")
	return cmd
}

func (c *cli) printResult(result *models.SyncResult) {
	u := c.ui

	for _, st := range result.ContentTypes {
		if st.Error != "" {
			u.printf("  %s %-24s %s\n", u.fail.Render("✗"), st.ContentType, u.muted.Render(st.Error))
			continue
		}
		u.printf("  %s %-24s %d items\n", u.pass.Render("✓"), st.ContentType, st.ItemCount)
	}

	u.printf("%s %d replayed, %d failed, %d discarded\n", u.accent.Render("Mutations:"),
		result.MutationsReplayed, result.MutationsFailed, result.MutationsDiscarded)

	elapsed := result.Duration().Round(time.Millisecond)
	switch {
	case !result.Success:
		u.printf("%s Sync failed after %v\n", u.fail.Render("✗"), elapsed)
	case result.NeedsAttention():
		u.printf("%s Sync finished with problems in %v\n", u.warn.Render("!"), elapsed)
		for _, e := range result.Errors {
			u.printf("   %s\n", u.muted.Render(e))
		}
	default:
		u.printf("%s Sync complete in %v\n", u.pass.Render("✓"), elapsed)
	}
}

func (c *cli) statusCmd() *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:     "status",
		GroupID: "sync",
		Short:   "Show sync state, pending mutations and content freshness",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("max-age") {
				maxAge = c.app.Config.Sync.MaxAge
			}
			u := c.ui
			st := c.app.Engine.Status(cmd.Context(), maxAge)

			state := u.pass.Render(string(st.State.Phase))
			if st.State.Syncing() {
				since := "an unknown time"
				if st.State.StartedAt > 0 {
					since = formatTime(&st.State.StartedAt)
				}
				state = u.warn.Render(fmt.Sprintf("%s since %s", st.State.Phase, since))
			}

			u.printf("%s\n", u.header.Render("Sync status"))
			u.printf("Sync state: %s\n", state)
			u.printf("Pending mutations: %d\n", st.PendingCount)
			u.printf("Content (max age %v):\n", maxAge)
			for _, cs := range st.Content {
				fresh := u.pass.Render("fresh")
				if cs.NeedsSync {
					fresh = u.warn.Render("stale")
				}
				last := formatTime(cs.LastSync)
				if cs.LastSync == nil {
					last = "never synced"
				}
				u.printf("  %-24s %-26s %s\n", cs.ContentType, last, fresh)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Freshness window (default from sync.max_age)")
	return cmd
}

func (c *cli) strategyCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "strategy ENTITY",
		GroupID: "sync",
		Short:   "Print the conflict strategy of an entity type",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(c.out, c.app.Engine.ConflictStrategy(args[0]))
			return nil
		},
	}
}

func (c *cli) unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "unlock",
		GroupID: "sync",
		Short:   "Clear a sync state left behind by a crashed process",
		Long: `Clear the sync state unconditionally.

A sync state older than sync.stale_lock_after is taken over automatically.
Use this for a state written without a start time, or when you are sure no
other process is syncing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Engine.ForceUnlock(cmd.Context()); err != nil {
				return err
			}
			c.ui.printf("%s Sync state cleared\n", c.ui.pass.Render("✓"))
			return nil
		},
	}
}

func (c *cli) resetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "reset",
		GroupID: "sync",
		Short:   "Discard queued mutations and sync timestamps",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset discards %d queued mutations; pass --yes to confirm",
					c.app.Engine.PendingCount(cmd.Context()))
			}
			if err := c.app.Engine.Reset(cmd.Context()); err != nil {
				return err
			}
			c.ui.printf("%s Sync state reset\n", c.ui.pass.Render("✓"))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm discarding local changes")
	return cmd
}
