package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/thorprogramador/rugby-ios/pkg/collab/gitvcs"
	"github.com/thorprogramador/rugby-ios/pkg/collab/jsonproject"
	"github.com/thorprogramador/rugby-ios/pkg/impact"
)

var testImpactBaseRef string

var testImpactCmd = &cobra.Command{
	Use:   "test-impact",
	Short: "List test targets impacted by changes since baseRef (or uncommitted changes if omitted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		projectStore := &jsonproject.Store{FileName: projectFile}
		g, err := projectStore.Read(cmd.Context(), projectRoot)
		if err != nil {
			return err
		}
		vcs, err := gitvcs.Open(projectRoot)
		if err != nil {
			return fmt.Errorf("opening git repository at %s: %w", projectRoot, err)
		}
		impacted, err := impact.New(vcs, g).Analyze(cmd.Context(), testImpactBaseRef)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(impacted))
		for id := range impacted {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	testImpactCmd.Flags().StringVar(&testImpactBaseRef, "base-ref", "", "commit to diff against (default: uncommitted changes)")
}
