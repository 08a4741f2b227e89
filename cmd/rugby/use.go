package main

import (
	"github.com/spf13/cobra"
)

var useFlagsVar selectionFlags

var useCmd = &cobra.Command{
	Use:   "use",
	Short: "Patch linkage to point cacheable targets at existing cache entries, without building",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		sel, err := useFlagsVar.selection()
		if err != nil {
			return err
		}
		report, err := o.Use(cmd.Context(), sel, useFlagsVar.buildFlags())
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	addSelectionFlags(useCmd, &useFlagsVar)
}
