package parser

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/studiowebux/replay-client/internal/errata"
	"golang.org/x/sync/errgroup"
)

// DefaultLoadParallelism is the number of replay files loaded concurrently
const DefaultLoadParallelism = 10

// LoadFunc loads one replay file
type LoadFunc func(path string) errata.Errata

// ListReplayFiles returns the replay files under dir, recursively, sorted by path
func ListReplayFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read replay directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// LoadReplayDirectory runs load on every replay file in dir with at most
// parallelism files in flight. Per-file diagnostics are merged into the
// returned errata; the error is only set for directory-level failures, which
// are fatal to the run.
func LoadReplayDirectory(ctx context.Context, dir string, load LoadFunc, parallelism int) (errata.Errata, error) {
	var all errata.Errata

	files, err := ListReplayFiles(dir)
	if err != nil {
		return all, err
	}
	if len(files) == 0 {
		return all, fmt.Errorf("no replay files found in %s", dir)
	}

	if parallelism <= 0 {
		parallelism = DefaultLoadParallelism
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			e := load(path)
			mu.Lock()
			all.Note(e)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return all, err
	}
	if err := ctx.Err(); err != nil {
		return all, fmt.Errorf("loading interrupted: %w", err)
	}

	all.Infof(`Loaded %d replay files from "%s".`, len(files), dir)
	return all, nil
}
