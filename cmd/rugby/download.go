package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/remote"
	"github.com/thorprogramador/rugby-ios/pkg/store"
)

var (
	downloadParallelism int
	downloadKeys        []string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Fetch cache entries by relative key from the configured S3-compatible remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(downloadKeys) == 0 {
			return fmt.Errorf("at least one --key is required")
		}
		cfg, err := remote.LoadConfigFromEnv()
		if err != nil {
			return err
		}
		transport := remote.New(cfg.Endpoint, cfg.Credentials)
		transport.Debug = cfg.Debug
		if err := transport.Preflight(cmd.Context()); err != nil {
			return err
		}

		st := store.New(rugbyRoot, collab.SystemClock{}, collab.RealFilesystem{})

		var objects []remote.DownloadObject
		for _, rel := range downloadKeys {
			objects = append(objects, remote.DownloadObject{
				Key:     remote.ObjectKey(rel, archiveSuffix),
				DestDir: st.ImportPath(rel),
			})
		}

		results := transport.DownloadAll(cmd.Context(), objects, downloadParallelism)
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("  failed: %s: %v\n", r.Key, r.Err)
				continue
			}
			fmt.Printf("  downloaded: %s\n", r.Key)
		}
		fmt.Printf("downloaded %d/%d objects\n", len(results)-failed, len(results))
		if failed > 0 {
			return fmt.Errorf("%d object(s) failed to download", failed)
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().IntVar(&downloadParallelism, "parallelism", remote.DefaultParallelism, "concurrent in-flight downloads")
	downloadCmd.Flags().StringArrayVar(&downloadKeys, "key", nil, "store-relative key to fetch (repeatable)")
}
