package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/inboxhunter/inboxhunter/internal/store"

	"github.com/spf13/cobra"
)

var (
	flagQueueLimit  int
	flagResultLimit int
	flagUsageLimit  int
	flagPending     bool
	flagAdID        string
	flagAdvertiser  string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "queue manages discovered urls waiting for processing",
}

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "results manages the outcome of processed urls",
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "usage reports API consumption and cost",
}

func init() {
	queueListCmd := &cobra.Command{Use: "list", Short: "list queued urls, newest first", Args: cobra.NoArgs, RunE: withStore(queueList)}
	queueListCmd.Flags().IntVar(&flagQueueLimit, "limit", store.DefaultListLimit, "maximum number of rows")
	queueListCmd.Flags().BoolVar(&flagPending, "pending", false, "only unprocessed urls, oldest first")
	queueAddCmd := &cobra.Command{Use: "add <url>", Short: "add a url to the queue", Args: cobra.ExactArgs(1), RunE: withStore(queueAdd)}
	queueAddCmd.Flags().StringVar(&flagAdID, "ad-id", "", "ad library id")
	queueAddCmd.Flags().StringVar(&flagAdvertiser, "advertiser", "", "advertiser name")
	queueCmd.AddCommand(
		queueListCmd,
		queueAddCmd,
		&cobra.Command{Use: "stats", Short: "queue counters", Args: cobra.NoArgs, RunE: withStore(queueStats)},
		&cobra.Command{Use: "delete <id>", Short: "delete a queued url", Args: cobra.ExactArgs(1), RunE: withStore(queueDelete)},
		&cobra.Command{Use: "toggle <id>", Short: "flip the processed flag", Args: cobra.ExactArgs(1), RunE: withStore(queueToggle)},
		&cobra.Command{Use: "clear", Short: "delete every queued url", Args: cobra.NoArgs, RunE: withStore(queueClear)},
		&cobra.Command{Use: "export [file]", Short: "export the queue as CSV, stdout by default", Args: cobra.MaximumNArgs(1), RunE: withStore(queueExport)},
	)

	resultsListCmd := &cobra.Command{Use: "list", Short: "list results, newest first", Args: cobra.NoArgs, RunE: withStore(resultsList)}
	resultsListCmd.Flags().IntVar(&flagResultLimit, "limit", store.DefaultListLimit, "maximum number of rows")
	resultsCmd.AddCommand(
		resultsListCmd,
		&cobra.Command{Use: "stats", Short: "result counters", Args: cobra.NoArgs, RunE: withStore(resultsStats)},
		&cobra.Command{Use: "delete <id>", Short: "delete a result", Args: cobra.ExactArgs(1), RunE: withStore(resultsDelete)},
		&cobra.Command{Use: "clear", Short: "delete every result", Args: cobra.NoArgs, RunE: withStore(resultsClear)},
		&cobra.Command{Use: "export [file]", Short: "export results as CSV, stdout by default", Args: cobra.MaximumNArgs(1), RunE: withStore(resultsExport)},
		&cobra.Command{Use: "retry [id]", Short: "forget failed results so the urls are attempted again", Args: cobra.MaximumNArgs(1), RunE: withStore(resultsRetry)},
		&cobra.Command{Use: "failed", Short: "number of failed results", Args: cobra.NoArgs, RunE: withStore(resultsFailed)},
	)

	usageListCmd := &cobra.Command{Use: "list", Short: "list usage records, newest first", Args: cobra.NoArgs, RunE: withStore(usageList)}
	usageListCmd.Flags().IntVar(&flagUsageLimit, "limit", store.DefaultUsageLimit, "maximum number of rows")
	usageCmd.AddCommand(
		usageListCmd,
		&cobra.Command{Use: "summary", Short: "cost summary per model as JSON", Args: cobra.NoArgs, RunE: withStore(usageSummary)},
		&cobra.Command{Use: "clear", Short: "delete every usage record", Args: cobra.NoArgs, RunE: withStore(usageClear)},
	)
}

type storeFunc func(ctx context.Context, st *store.Store, args []string) error

// withStore opens the database for the duration of one command.
func withStore(fn storeFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := store.Open(ctx, filepath.Join(dataDir, store.FileName))
		if err != nil {
			return err
		}
		defer func() {
			_ = st.Close()
		}()
		return fn(ctx, st, args)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id, nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}

func opt(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func when(t time.Time) string {
	return t.Local().Format(time.DateTime)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func queueList(ctx context.Context, st *store.Store, _ []string) error {
	list := st.ListQueue
	if flagPending {
		list = st.ListPending
	}
	items, err := list(ctx, flagQueueLimit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tURL\tAD ID\tADVERTISER\tDISCOVERED\tPROCESSED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", it.ID, it.URL, opt(it.AdID), opt(it.Advertiser), when(it.DiscoveredAt), it.Processed)
	}
	return tw.Flush()
}

func queueAdd(ctx context.Context, st *store.Store, args []string) error {
	id, inserted, err := st.Enqueue(ctx, store.Candidate{URL: args[0], AdID: flagAdID, Advertiser: flagAdvertiser})
	if err != nil {
		return err
	}
	if !inserted {
		fmt.Println("already queued")
		return nil
	}
	fmt.Printf("queued as %d\n", id)
	return nil
}

func queueStats(ctx context.Context, st *store.Store, _ []string) error {
	stats, err := st.QueueStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func queueDelete(ctx context.Context, st *store.Store, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return st.DeleteQueued(ctx, id)
}

func queueToggle(ctx context.Context, st *store.Store, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	processed, err := st.ToggleProcessed(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("processed: %t\n", processed)
	return nil
}

func queueClear(ctx context.Context, st *store.Store, _ []string) error {
	n, err := st.ClearQueue(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d urls\n", n)
	return nil
}

func queueExport(ctx context.Context, st *store.Store, args []string) error {
	return export(args, func(w io.Writer) (int, error) { return st.ExportQueueCSV(ctx, w) })
}

func resultsList(ctx context.Context, st *store.Store, _ []string) error {
	results, err := st.ListResults(ctx, flagResultLimit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tURL\tSOURCE\tSTATUS\tCATEGORY\tERROR\tPROCESSED")
	for _, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.URL, r.Source, r.Status, opt(r.ErrorCategory), opt(r.ErrorMessage), when(r.ProcessedAt))
	}
	return tw.Flush()
}

func resultsStats(ctx context.Context, st *store.Store, _ []string) error {
	stats, err := st.ResultStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func resultsDelete(ctx context.Context, st *store.Store, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	return st.DeleteResult(ctx, id)
}

func resultsClear(ctx context.Context, st *store.Store, _ []string) error {
	n, err := st.ClearResults(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d results\n", n)
	return nil
}

func resultsExport(ctx context.Context, st *store.Store, args []string) error {
	return export(args, func(w io.Writer) (int, error) { return st.ExportResultsCSV(ctx, w) })
}

func resultsRetry(ctx context.Context, st *store.Store, args []string) error {
	if len(args) == 1 {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		return st.RetryResult(ctx, id)
	}
	n, err := st.RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d urls will be retried\n", n)
	return nil
}

func resultsFailed(ctx context.Context, st *store.Store, _ []string) error {
	n, err := st.FailedCount(ctx)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func usageList(ctx context.Context, st *store.Store, _ []string) error {
	sessions, err := st.ListUsage(ctx, flagUsageLimit)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "ID\tSESSION\tMODEL\tINPUT\tOUTPUT\tCALLS\tCOST")
	for _, u := range sessions {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\t%.4f\n", u.ID, when(u.SessionStart), u.Model, u.InputTokens, u.OutputTokens, u.APICalls, u.Cost)
	}
	return tw.Flush()
}

func usageSummary(ctx context.Context, st *store.Store, _ []string) error {
	summary, err := st.CostSummary(ctx)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func usageClear(ctx context.Context, st *store.Store, _ []string) error {
	n, err := st.ClearUsage(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d usage records\n", n)
	return nil
}

// export writes CSV to args[0] or stdout.
func export(args []string, write func(io.Writer) (int, error)) error {
	if len(args) == 0 {
		_, err := write(os.Stdout)
		return err
	}
	f, err := os.Create(args[0])
	if err != nil {
		return err
	}
	n, err := write(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d rows to %s\n", n, args[0])
	return nil
}
