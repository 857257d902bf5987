// Package fetch implements the WorkItemFetcher that feeds a run its work
// items: files discovered under a root directory. Grounded on the
// teacher's recursive directory-walk idiom in
// pkg/core/blocks/directory_processor.go (filepath.Walk building a flat
// list of file descriptors ahead of parallel processing), adapted from
// "walk and immediately dispatch into a worker pool" to "walk once,
// return the full list" — the engine owns dispatch, the fetcher's only
// job is enumeration.
package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fsnotify/fsnotify"

	"github.com/batchworks/adaptivebatch/internal/obscontext"
)

// FileRef is one discovered file: its path and size at discovery time.
// This is the concrete WorkItemFetcher[T] instantiation the shipped
// binaries use as T.
type FileRef struct {
	Path string
	Size int64
}

// DirectoryFetcher implements engine.WorkItemFetcher[FileRef] by walking
// Root once per run and returning every regular file found, matching
// Extensions if set.
type DirectoryFetcher struct {
	Root       string
	Extensions []string // e.g. ".csv"; empty means "all files"
}

// FetchWorkItems walks Root exactly once, per §6's "called once per run"
// contract, and returns a deterministically ordered (path-sorted) slice of
// FileRef.
func (f DirectoryFetcher) FetchWorkItems(ctx context.Context, _ *obscontext.ExecutionContext) ([]FileRef, error) {
	var refs []FileRef

	err := filepath.Walk(f.Root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			return nil
		}
		if !f.matches(path) {
			return nil
		}
		refs = append(refs, FileRef{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch: walking %s: %w", f.Root, err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

func (f DirectoryFetcher) matches(path string) bool {
	if len(f.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, want := range f.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// RescanTrigger watches Root for filesystem changes between runs and signals
// on Changed whenever a create/write/remove/rename event is observed. It is
// explicitly a between-runs signal, not a mid-run one: §5's concurrency
// model calls the fetcher exactly once per run, so a mid-run directory
// change can only ever affect the *next* run, never the current one.
type RescanTrigger struct {
	Root    string
	Changed chan string

	watcher *fsnotify.Watcher
}

// NewRescanTrigger starts watching Root (non-recursively at the top
// level; subdirectories present at start time are added too) and returns a
// trigger whose Changed channel receives the changed path for each
// create/write/remove/rename event; an event is dropped when the channel's
// 16-slot buffer is full.
func NewRescanTrigger(root string) (*RescanTrigger, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fetch: creating watcher: %w", err)
	}

	rt := &RescanTrigger{Root: root, Changed: make(chan string, 16), watcher: w}

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return w.Add(path)
		}
		return nil
	})
	if walkErr != nil {
		w.Close()
		return nil, fmt.Errorf("fetch: watching %s: %w", root, walkErr)
	}

	go rt.loop()
	return rt, nil
}

func (rt *RescanTrigger) loop() {
	for event := range rt.watcher.Events {
		if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
			select {
			case rt.Changed <- event.Name:
			default:
				// Channel full: a rescan is already pending, drop the
				// duplicate signal rather than block the watcher.
			}
		}
	}
}

// Close stops watching and closes the Changed channel.
func (rt *RescanTrigger) Close() error {
	err := rt.watcher.Close()
	close(rt.Changed)
	return err
}
