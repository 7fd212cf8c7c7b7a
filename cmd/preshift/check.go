package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldops/preshift/internal/inbox"
	"github.com/fieldops/preshift/internal/inspection"
	"github.com/fieldops/preshift/internal/model"
)

var submitCmd = &cobra.Command{
	Use:     "submit FILE",
	GroupID: "checks",
	Short:   "Record a completed check from an answer file",
	Long: `Record a completed pre-shift check from a YAML answer file:

  asset_id: fl-07
  responses:
    - item_id: tires
      answer: "NO"
      comment: left front worn

Every item of the asset's active checklist must be answered, and every NO needs
a comment. A failed check raises one fault per NO answer. Both are queued for
upload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := inbox.LoadAnswers(args[0])
		if err != nil {
			return err
		}
		if answers.IsEdit() {
			return fmt.Errorf("%s names event %s; use 'preshift edit'", args[0], answers.EventID)
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sub := inspection.Submission{AssetID: answers.AssetID, Responses: answers.Responses}
		if answers.StartedAt != nil {
			sub.StartedAt = *answers.StartedAt
		}
		ev, faults, err := a.inspection.Submit(cmd.Context(), sub)
		if err != nil {
			return explainInspectionError(err)
		}
		printEventSaved("Check recorded", ev, faults)
		return nil
	},
}

var editCmd = &cobra.Command{
	Use:     "edit FILE",
	GroupID: "checks",
	Short:   "Correct a check that has not been uploaded yet",
	Long: `Replace the responses of a pending check. The answer file must carry the
event_id of the check. Faults raised by the old responses are replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := inbox.LoadAnswers(args[0])
		if err != nil {
			return err
		}
		if !answers.IsEdit() {
			return fmt.Errorf("%s has no event_id", args[0])
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ev, faults, err := a.inspection.Edit(cmd.Context(), answers.EventID, answers.Responses)
		if err != nil {
			return explainInspectionError(err)
		}
		printEventSaved("Check updated", ev, faults)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete EVENT_ID",
	GroupID: "checks",
	Short:   "Discard a check that has not been uploaded yet",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.inspection.Delete(cmd.Context(), args[0]); err != nil {
			return explainInspectionError(err)
		}
		fmt.Printf("%s Check %s deleted\n", renderPass("✓"), shortID(args[0]))
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show EVENT_ID",
	GroupID: "checks",
	Short:   "Show one check with its responses",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		ev, err := a.store.GetEvent(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		printTitle(os.Stdout, "Check "+ev.EventID)
		printField(os.Stdout, "Asset", ev.AssetID)
		printField(os.Stdout, "Checklist", fmt.Sprintf("%s v%d", ev.ChecklistSnapshot.ChecklistID, ev.ChecklistSnapshot.Version))
		printField(os.Stdout, "Reporter", ev.Reporter.Name)
		printField(os.Stdout, "Completed", formatWhen(ev.CompletedAt))
		printField(os.Stdout, "Result", renderResult(ev.Result))
		printField(os.Stdout, "Sync", renderSyncStatus(ev.SyncStatus))
		if ev.LastError != "" {
			printField(os.Stdout, "Last error", renderFail(ev.LastError))
		}

		printTitle(os.Stdout, "Responses")
		for _, r := range ev.Responses {
			text := r.ItemID
			if item, ok := ev.ChecklistSnapshot.Item(r.ItemID); ok {
				text = item.Text
			}
			answer := renderPass(string(r.Answer))
			if r.Answer == model.AnswerNo {
				answer = renderFail(string(r.Answer))
			}
			fmt.Printf("  %-4s %s\n", answer, text)
			if r.Comment != "" {
				fmt.Println(renderMuted(indent(r.Comment)))
			}
		}
		fmt.Println()
		return nil
	},
}

func printEventSaved(title string, ev *model.PreShiftCheckEvent, faults []*model.Fault) {
	fmt.Printf("%s %s for %s: %s\n", renderPass("✓"), title, renderAccent(ev.AssetID), renderResult(ev.Result))
	printField(os.Stdout, "Event", ev.EventID)
	printField(os.Stdout, "Completed", ev.CompletedAt.Local().Format(time.RFC1123))
	for _, f := range faults {
		fmt.Printf("  %s %s %s\n", renderWarn("fault"), renderPriority(f.Priority), f.Description)
	}
	fmt.Println(renderMuted("  Queued for upload."))
}

// explainInspectionError adds a hint to errors an operator can act on.
func explainInspectionError(err error) error {
	switch {
	case errors.Is(err, inspection.ErrNoReporter):
		return fmt.Errorf("%w; run 'preshift reporter set' first", err)
	case errors.Is(err, inspection.ErrAlreadySynced):
		return fmt.Errorf("%w; record a new check instead", err)
	}
	return err
}

func init() {
	rootCmd.AddCommand(submitCmd, editCmd, deleteCmd, showCmd)
}
