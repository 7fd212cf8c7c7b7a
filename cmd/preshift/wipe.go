package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var wipeYes bool

var wipeCmd = &cobra.Command{
	Use:     "wipe",
	GroupID: "sync",
	Short:   "Delete all data stored on this device",
	Long: `Delete every cached and queued record, the reporter and the last sync time
included. Checks that were not uploaded yet are lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if !wipeYes {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("refusing to wipe without --yes")
			}
			msg := "Delete all local data?"
			if stats, err := a.store.Stats(cmd.Context()); err == nil && stats.Unsynced() > 0 {
				msg = fmt.Sprintf("%d records were never uploaded. Delete all local data anyway?", stats.Unsynced())
			}
			confirmed := false
			if err := huh.NewConfirm().Title(msg).Affirmative("Wipe").Negative("Cancel").Value(&confirmed).Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println(renderMuted("Cancelled."))
				return nil
			}
		}

		if err := a.store.Wipe(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("%s Local data wiped\n", renderPass("✓"))
		return nil
	},
}

func init() {
	wipeCmd.Flags().BoolVar(&wipeYes, "yes", false, "skip the confirmation prompt")
	rootCmd.AddCommand(wipeCmd)
}
