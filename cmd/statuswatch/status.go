package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/osbits/statuswatch/internal/store"
)

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the stored status and recent history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return err
			}
			st, history, closers, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer func() {
				for _, c := range closers {
					_ = c.Close()
				}
			}()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			w := cmd.OutOrStdout()
			rec, ok, err := st.Load(ctx)
			switch {
			case err != nil:
				fmt.Fprintf(w, "stored status unreadable: %v\n", err)
			case !ok:
				fmt.Fprintln(w, "no status recorded yet")
			default:
				fmt.Fprintf(w, "status:      %s\n", rec.Status)
				fmt.Fprintf(w, "observed at: %s\n", rec.ObservedAt.Local().Format(time.DateTime))
			}

			if history == nil {
				return nil
			}
			runs, err := history.RecentCheckRuns(ctx, limit)
			if err != nil {
				return err
			}
			logs, err := history.RecentNotifications(ctx, limit)
			if err != nil {
				return err
			}
			printHistory(w, runs, logs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Number of history entries to show")
	return cmd
}

func printHistory(w io.Writer, runs []store.CheckRun, logs []store.NotificationLog) {
	if len(runs) > 0 {
		fmt.Fprintln(w, "\nrecent checks:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tRESULT\tATTEMPTS\tEVENT\tDETAIL")
		for _, run := range runs {
			result, detail := "ok", run.Status
			if !run.Success {
				result, detail = "failed", run.Reason
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", run.OccurredAt.Local().Format(time.DateTime), result, run.Attempts, run.Event, detail)
		}
		tw.Flush()
	}
	if len(logs) > 0 {
		fmt.Fprintln(w, "\nrecent notifications:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tNOTIFIER\tDELIVERED\tCHANGE")
		for _, entry := range logs {
			delivered := "yes"
			if !entry.Delivered {
				delivered = "no: " + entry.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\n", entry.OccurredAt.Local().Format(time.DateTime), entry.NotifierID, delivered, entry.Previous, entry.Current)
		}
		tw.Flush()
	}
}
