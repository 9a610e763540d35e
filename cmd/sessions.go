package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/threadclaw/internal/config"
	"github.com/nextlevelbuilder/threadclaw/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect persisted session records",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsShowCmd())
	cmd.AddCommand(sessionsDeleteCmd())
	return cmd
}

func withStore(fn func(ctx context.Context, st store.SessionStore) error) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	st, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	return fn(ctx, st)
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all session records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.SessionStore) error {
				records, err := st.List(ctx)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("No sessions.")
					return nil
				}
				sort.Slice(records, func(i, j int) bool {
					return records[i].UpdatedAt.After(records[j].UpdatedAt)
				})
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION\tSTATE\tOWNER\tMSGS\tUPDATED\tPROMPT")
				for _, r := range records {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
						r.SessionID, r.Lifecycle, r.Owner, r.MessageCount,
						r.UpdatedAt.Format("2006-01-02 15:04"), r.FirstPrompt)
				}
				return w.Flush()
			})
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.SessionStore) error {
				rec, err := st.Get(ctx, args[0])
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(rec, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, st store.SessionStore) error {
				if err := st.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
}
