package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/fieldops/preshift/internal/local"
	"github.com/fieldops/preshift/internal/model"
)

var (
	eventsAsset   string
	eventsSince   string
	eventsPending bool
	eventsLimit   int
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	GroupID: "checks",
	Short:   "List recorded checks",
	Long: `List checks stored on this device, newest completion first.

--since accepts an RFC 3339 time, a date, a duration such as 36h, or plain
English such as "yesterday" or "last monday".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := local.EventFilter{AssetID: eventsAsset, Limit: eventsLimit}
		if eventsSince != "" {
			since, err := parseSince(eventsSince, time.Now())
			if err != nil {
				return err
			}
			filter.Since = since
		}
		if eventsPending {
			filter.SyncStatuses = []model.SyncStatus{model.SyncPending, model.SyncError}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.store.ListEvents(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println(renderMuted("No checks found."))
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "EVENT\tASSET\tCOMPLETED\tRESULT\tSYNC\tREPORTER")
		for _, ev := range events {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(ev.EventID),
				ev.AssetID,
				formatWhen(ev.CompletedAt),
				renderResult(ev.Result),
				renderSyncStatus(ev.SyncStatus),
				ev.Reporter.Name,
			)
		}
		return tw.Flush()
	},
}

// parseSince resolves a --since value relative to now.
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: not a time", s)
	}
	return r.Time, nil
}

func init() {
	eventsCmd.Flags().StringVar(&eventsAsset, "asset", "", "only checks of this asset")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "only checks completed after this time")
	eventsCmd.Flags().BoolVar(&eventsPending, "pending", false, "only checks waiting for upload")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum number of checks (0 for all)")
	rootCmd.AddCommand(eventsCmd)
}
