package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fieldops/preshift/internal/model"
)

var (
	reporterName   string
	reporterUserID string
)

var reporterCmd = &cobra.Command{
	Use:     "reporter",
	GroupID: "checks",
	Short:   "Show or set the operator identity",
	Long: `Show the operator identity stamped on every check and fault.

Queue uploads are refused until a reporter is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r, ok := a.store.Reporter()
		if !ok {
			fmt.Printf("%s No reporter set. Run 'preshift reporter set'.\n", renderWarn("!"))
			return nil
		}
		printField(os.Stdout, "Name", r.Name)
		if r.UserID != "" {
			printField(os.Stdout, "User ID", r.UserID)
		}
		return nil
	},
}

var reporterSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the operator identity",
	Long: `Set the operator identity. Without --name an interactive prompt is shown
when stdin is a terminal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		r := model.Reporter{Name: reporterName, UserID: reporterUserID}
		if r.Name == "" {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("--name is required when not running in a terminal")
			}
			if current, ok := a.store.Reporter(); ok {
				r = current
			}
			if err := promptReporter(&r); err != nil {
				return err
			}
		}

		r.Name = strings.TrimSpace(r.Name)
		r.UserID = strings.TrimSpace(r.UserID)
		if err := a.store.SetReporter(cmd.Context(), r); err != nil {
			return err
		}
		fmt.Printf("%s Reporter set to %s\n", renderPass("✓"), renderAccent(r.Name))
		return nil
	},
}

func promptReporter(r *model.Reporter) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Operator name").
				Value(&r.Name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Badge or user ID (optional)").
				Value(&r.UserID),
		),
	)
	return form.Run()
}

func init() {
	reporterSetCmd.Flags().StringVar(&reporterName, "name", "", "operator name")
	reporterSetCmd.Flags().StringVar(&reporterUserID, "user-id", "", "operator badge or user id")
	reporterCmd.AddCommand(reporterSetCmd)
	rootCmd.AddCommand(reporterCmd)
}
