// Package jsonproject implements pkg/collab.ProjectReader and
// pkg/collab.ProjectWriter against a single JSON file. Real Xcode project
// file parsing is declared out of scope by this system (the source format
// is an opaque external collaborator); this package exists so cmd/rugby has
// a concrete, round-trippable manifest format to run end to end against
// instead of leaving ProjectReader/ProjectWriter entirely unimplemented.
package jsonproject

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/thorprogramador/rugby-ios/pkg/target"
)

// Store reads and writes a ProjectGraph as indented JSON at
// <projectRoot>/<FileName>.
type Store struct {
	// FileName defaults to "rugby-project.json" when empty.
	FileName string
}

func (s *Store) fileName() string {
	if s.FileName != "" {
		return s.FileName
	}
	return "rugby-project.json"
}

func (s *Store) path(projectRoot string) string {
	return filepath.Join(projectRoot, s.fileName())
}

func (s *Store) Read(ctx context.Context, projectRoot string) (*target.Graph, error) {
	data, err := os.ReadFile(s.path(projectRoot))
	if err != nil {
		return nil, errors.Wrapf(err, "reading project manifest %s", s.path(projectRoot))
	}
	var g target.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, "parsing project manifest")
	}
	return &g, nil
}

func (s *Store) Write(ctx context.Context, projectRoot string, g *target.Graph) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding project manifest")
	}
	if err := os.WriteFile(s.path(projectRoot), data, 0o644); err != nil {
		return errors.Wrapf(err, "writing project manifest %s", s.path(projectRoot))
	}
	return nil
}
