// Command rugby is a thin cobra CLI over pkg/orchestrator: it wires the
// real collaborators (a JSON project manifest, a git working tree, an
// xcodebuild-backed native builder) and delegates every subcommand straight
// through to an Orchestrator workflow. Flag parsing, help text and progress
// rendering are intentionally minimal; the core logic lives in pkg/.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/collab/gitvcs"
	"github.com/thorprogramador/rugby-ios/pkg/collab/jsonproject"
	"github.com/thorprogramador/rugby-ios/pkg/collab/xcbuild"
	"github.com/thorprogramador/rugby-ios/pkg/fingerprint"
	"github.com/thorprogramador/rugby-ios/pkg/journal"
	"github.com/thorprogramador/rugby-ios/pkg/orchestrator"
	"github.com/thorprogramador/rugby-ios/pkg/store"
)

var (
	projectRoot = "."
	rugbyRoot   = ".rugby"
	projectFile = "rugby-project.json"
)

var rootCmd = &cobra.Command{
	Use:   "rugby",
	Short: "Accelerate Xcode/CocoaPods builds with a content-addressed binary cache",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", projectRoot, "workspace root containing the project manifest")
	rootCmd.PersistentFlags().StringVar(&rugbyRoot, "rugby-root", rugbyRoot, "directory holding the binary cache and backup journal")
	rootCmd.PersistentFlags().StringVar(&projectFile, "project-file", projectFile, "project manifest file name, relative to --project-root")

	rootCmd.AddCommand(buildCmd, useCmd, rebuildCmd, rollbackCmd, testImpactCmd, uploadCmd, downloadCmd)
}

// newOrchestrator constructs an Orchestrator over the real collaborators:
// a JSON-backed project store, a go-git working tree, and an
// xcodebuild-shelling native builder.
func newOrchestrator() (*orchestrator.Orchestrator, error) {
	projectStore := &jsonproject.Store{FileName: projectFile}
	vcs, err := gitvcs.Open(projectRoot)
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", projectRoot, err)
	}
	builder := xcbuild.New(rugbyRoot+"/DerivedData", projectStore)
	st := store.New(rugbyRoot, collab.SystemClock{}, collab.RealFilesystem{})
	j := journal.New(rugbyRoot+"/.journal", projectRoot)
	engine := fingerprint.NewEngine(&xcbuild.Toolchain{})

	o := orchestrator.New(projectRoot, []string{projectFile}, projectStore, projectStore, vcs, builder, st, j, engine)
	return o, nil
}

func printReport(r *orchestrator.Report) {
	fmt.Printf("hits: %d, misses: %d, imported: %d\n", len(r.Hits), len(r.Misses), len(r.Imported))
	for _, id := range r.Misses {
		fmt.Printf("  miss: %s\n", id)
	}
	if r.Output != "" {
		fmt.Println(r.Output)
	}
}

func main() {
	log.SetFlags(0)
	// An interrupt cancels the command's context, so an in-flight native
	// build fails and the workflow restores its tmp journal slot.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rugby:", err)
		os.Exit(1)
	}
}
