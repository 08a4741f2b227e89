package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thorprogramador/rugby-ios/pkg/collab"
	"github.com/thorprogramador/rugby-ios/pkg/remote"
	"github.com/thorprogramador/rugby-ios/pkg/store"
)

// archiveSuffix is the extension every uploaded cache entry is compressed
// under and every downloaded object is expected to carry.
const archiveSuffix = ".zip"

var uploadParallelism int

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Push every local cache entry to the configured S3-compatible remote",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		entries, err := st.Entries()
		if err != nil {
			return err
		}

		var objects []remote.UploadObject
		for _, e := range entries {
			rel, err := st.RelPath(e)
			if err != nil {
				return err
			}
			objects = append(objects, remote.UploadObject{
				Key:      remote.ObjectKey(rel, archiveSuffix),
				LocalDir: e.Path,
			})
		}

		results := transport.UploadAll(cmd.Context(), objects, archiveSuffix, uploadParallelism)
		var failed int
		for _, r := range results {
			if r.Err != nil {
				failed++
				fmt.Printf("  failed: %s: %v\n", r.Key, r.Err)
				continue
			}
			fmt.Printf("  uploaded: %s\n", r.Key)
		}
		fmt.Printf("uploaded %d/%d objects\n", len(results)-failed, len(results))
		if failed > 0 {
			return fmt.Errorf("%d object(s) failed to upload", failed)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().IntVar(&uploadParallelism, "parallelism", remote.DefaultParallelism, "concurrent in-flight uploads")
}
