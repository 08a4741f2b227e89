package main

import (
	"github.com/spf13/cobra"
)

var rebuildFlagsVar selectionFlags

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the current selection from source and refresh their cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		sel, err := rebuildFlagsVar.selection()
		if err != nil {
			return err
		}
		report, err := o.Rebuild(cmd.Context(), sel, rebuildFlagsVar.buildFlags())
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	addSelectionFlags(rebuildCmd, &rebuildFlagsVar)
}
