package main

import (
	"github.com/spf13/cobra"
)

var buildFlagsVar selectionFlags

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build cacheable targets, importing any misses into the binary cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		sel, err := buildFlagsVar.selection()
		if err != nil {
			return err
		}
		report, err := o.BuildCache(cmd.Context(), sel, buildFlagsVar.buildFlags())
		if err != nil {
			return err
		}
		printReport(report)
		return nil
	},
}

func init() {
	addSelectionFlags(buildCmd, &buildFlagsVar)
}
