package main

import (
	"regexp"

	"github.com/spf13/cobra"

	"github.com/thorprogramador/rugby-ios/pkg/orchestrator"
	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// selectionFlags holds the raw flag values shared by the build, use and
// rebuild subcommands; its selection and buildFlags methods turn them into
// the typed values pkg/orchestrator and pkg/target expect.
type selectionFlags struct {
	include    string
	except     []string
	appsTests  bool
	config     string
	sdk        string
	arch       string
	xcargs     []string
	ignoreCache bool
}

func addSelectionFlags(cmd *cobra.Command, f *selectionFlags) {
	cmd.Flags().StringVar(&f.include, "include", "", "regex of target names to include (default: all)")
	cmd.Flags().StringSliceVar(&f.except, "except", nil, "target ids or names to exclude")
	cmd.Flags().BoolVar(&f.appsTests, "apps-and-tests", false, "also consider application and test targets cacheable")
	cmd.Flags().StringVar(&f.config, "config", "Debug", "build configuration")
	cmd.Flags().StringVar(&f.sdk, "sdk", "sim", "SDK selector: sim or device")
	cmd.Flags().StringVar(&f.arch, "arch", "auto", "architecture selector: auto, x86_64, or arm64")
	cmd.Flags().StringArrayVar(&f.xcargs, "xcarg", nil, "extra xcodebuild argument (repeatable)")
	cmd.Flags().BoolVar(&f.ignoreCache, "ignore-cache", false, "treat every target as a miss regardless of the store")
}

func (f selectionFlags) selection() (orchestrator.Selection, error) {
	sel := orchestrator.Selection{IncludeAppsAndTests: f.appsTests}
	if f.include != "" {
		re, err := regexp.Compile(f.include)
		if err != nil {
			return orchestrator.Selection{}, err
		}
		sel.Include = re
	}
	if len(f.except) > 0 {
		sel.Except = map[string]bool{}
		for _, e := range f.except {
			sel.Except[e] = true
		}
	}
	return sel, nil
}

func (f selectionFlags) buildFlags() target.BuildFlags {
	sdk := target.SDK(f.sdk)
	arch := target.Arch(f.arch)
	return target.BuildFlags{
		Config:      f.config,
		SDK:         sdk,
		Arch:        arch,
		XCArgs:      f.xcargs,
		IgnoreCache: f.ignoreCache,
	}
}
