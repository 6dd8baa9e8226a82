package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/imsgrelay/internal/config"
	"github.com/ent0n29/imsgrelay/internal/cursor"
)

func newCursorCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Inspect or move the persisted cursor",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the persisted cursor",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := c.openStore(cmd)
				if err != nil {
					return err
				}
				defer store.Close()

				st, ok, err := store.Load(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !ok {
					fmt.Fprintln(out, warningStyle.Render("no cursor persisted; the next run will baseline from the newest message"))
					return nil
				}
				fmt.Fprintf(out, "%s %d\n", successStyle.Render("cursor"), st.ID)
				if !st.UpdatedAt.IsZero() {
					fmt.Fprintf(out, "updated %s\n", st.UpdatedAt.Local().Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "set ID",
			Short: "Overwrite the persisted cursor (stop the relay first)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
				if err != nil || id < 0 {
					return fmt.Errorf("cursor must be a non-negative integer, got %q", args[0])
				}
				store, err := c.openStore(cmd)
				if err != nil {
					return err
				}
				defer store.Close()

				if err := store.Save(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", successStyle.Render("cursor set to"), id)
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) openStore(cmd *cobra.Command) (cursor.Store, error) {
	cfg, err := c.load(true)
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return storeFor(cmd, cfg)
}

func storeFor(cmd *cobra.Command, cfg config.Config) (cursor.Store, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" && strings.TrimSpace(cfg.CursorPath) == "" {
		return nil, fmt.Errorf("no cursor store configured; set RELAY_CURSOR_PATH or DATABASE_URL")
	}
	return cursor.NewStore(cmd.Context(), cursor.Config{
		DatabaseURL: cfg.DatabaseURL,
		Path:        cfg.CursorPath,
		Name:        cfg.CursorName,
	})
}
