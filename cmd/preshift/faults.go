package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldops/preshift/internal/api"
	"github.com/fieldops/preshift/internal/local"
	"github.com/fieldops/preshift/internal/model"
)

var (
	faultsAsset string
	faultsAll   bool
)

var faultsCmd = &cobra.Command{
	Use:     "faults",
	GroupID: "checks",
	Short:   "List faults known on this device",
	Long: `List open faults: the ones raised on this device plus the server's open
faults for assets refreshed during sync. Use --all to include closed faults.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		filter := local.FaultFilter{AssetID: faultsAsset}
		if !faultsAll {
			filter.Status = model.FaultOpen
		}
		faults, err := a.store.ListFaults(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(faults) == 0 {
			fmt.Println(renderMuted("No faults."))
			return nil
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FAULT\tASSET\tPRIORITY\tSTATUS\tSYNC\tDESCRIPTION")
		for _, f := range faults {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				shortID(f.FaultID),
				f.AssetID,
				renderPriority(f.Priority),
				f.Status,
				renderSyncStatus(f.SyncStatus),
				f.Description,
			)
		}
		return tw.Flush()
	},
}

var faultsCloseCmd = &cobra.Command{
	Use:   "close FAULT_ID",
	Short: "Close a fault on the server",
	Long: `Close a fault on the server. The fault must already be uploaded; run
'preshift push' first for faults raised on this device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		f, err := closeFault(cmd.Context(), a, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Fault %s closed\n", renderPass("✓"), shortID(f.FaultID))
		return nil
	},
}

// closeFault patches the server copy and mirrors the result locally.
func closeFault(ctx context.Context, a *app, faultID string) (*model.Fault, error) {
	if stored, err := a.store.GetFault(ctx, faultID); err == nil && stored.SyncStatus.NeedsUpload() {
		return nil, fmt.Errorf("fault %s has not been uploaded yet", faultID)
	}

	closed := model.FaultClosed
	f, err := a.client.PatchFault(ctx, faultID, api.FaultPatch{Status: &closed})
	if errors.Is(err, api.ErrNotFound) {
		return nil, fmt.Errorf("fault %s is unknown to the server", faultID)
	}
	if err != nil {
		return nil, err
	}

	f.SyncStatus = model.SyncSynced
	if err := a.store.PutFault(ctx, f); err != nil {
		logger.Warn("Closed fault not mirrored locally", zap.String("fault_id", faultID), zap.Error(err))
	}
	return f, nil
}

func init() {
	faultsCmd.Flags().StringVar(&faultsAsset, "asset", "", "only faults of this asset")
	faultsCmd.Flags().BoolVar(&faultsAll, "all", false, "include closed faults")
	faultsCmd.AddCommand(faultsCloseCmd)
	rootCmd.AddCommand(faultsCmd)
}
