package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Restore the project manifest to its pre-build snapshot, undoing any patch",
	RunE: func(cmd *cobra.Command, args []string) error {
		o, err := newOrchestrator()
		if err != nil {
			return err
		}
		if err := o.Rollback(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("rolled back")
		return nil
	},
}
