package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/fieldops/preshift/internal/model"
)

// seedFile is the reference data layout:
//
//	[[assets]]
//	asset_id = "fl-07"
//	name = "Forklift 7"
//	machine_class = "forklift"
//
//	[[checklists]]
//	checklist_id = "cl-forklift-v3"
//	machine_class = "forklift"
//	version = 3
//	status = "ACTIVE"
//
//	[[checklists.items]]
//	item_id = "tires"
//	text = "Tires inflated, no visible damage"
//	priority = "HIGH"
//	sort_order = 1
type seedFile struct {
	Assets     []model.Asset     `toml:"assets"`
	Checklists []model.Checklist `toml:"checklists"`
}

func loadSeedFile(path string) (*seedFile, error) {
	var data seedFile
	md, err := toml.DecodeFile(path, &data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if err := data.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &data, nil
}

func (s *seedFile) validate() error {
	for i, a := range s.Assets {
		if a.AssetID == "" || a.MachineClass == "" {
			return fmt.Errorf("asset %d needs asset_id and machine_class", i+1)
		}
	}
	for i, c := range s.Checklists {
		if c.ChecklistID == "" || c.MachineClass == "" {
			return fmt.Errorf("checklist %d needs checklist_id and machine_class", i+1)
		}
		if c.Status == "" {
			s.Checklists[i].Status = model.ChecklistActive
		}
		seen := make(map[string]bool, len(c.Items))
		for _, item := range c.Items {
			if item.ItemID == "" {
				return fmt.Errorf("checklist %s has an item without item_id", c.ChecklistID)
			}
			if seen[item.ItemID] {
				return fmt.Errorf("checklist %s repeats item %s", c.ChecklistID, item.ItemID)
			}
			seen[item.ItemID] = true
		}
	}
	return nil
}

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Load assets and checklists from a TOML file",
	Long: `Load reference data into the configured storage. Records with an existing
id are replaced. Only useful with the postgres driver; the memory driver
forgets everything on exit, use 'serve --seed' instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := loadSeedFile(args[0])
		if err != nil {
			return err
		}

		svc, closeStore, err := openService()
		if err != nil {
			return err
		}
		defer closeStore()

		if err := svc.Seed(cmd.Context(), data.Assets, data.Checklists); err != nil {
			return err
		}
		fmt.Printf("Seeded %d assets and %d checklists\n", len(data.Assets), len(data.Checklists))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
