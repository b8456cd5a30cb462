package schema

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/bbc/nmos-discovery-registration-ri/internal/resource"
)

// Watcher reloads catalogue overrides from a directory tree of
// <kind>/<version>.json files whenever one changes on disk, letting an
// operator patch a schema without a redeploy.
type Watcher struct {
	dir string
	cat *Catalogue
	log *logrus.Entry
}

// NewWatcher returns a Watcher rooted at dir. It does not start
// watching until Run is called.
func NewWatcher(dir string, cat *Catalogue, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.WithField("component", "schema-watcher")
	}
	return &Watcher{dir: dir, cat: cat, log: log}
}

// Run loads every override already present under dir, then watches for
// further writes until ctx is cancelled. It returns an error only on
// setup failure; steady-state errors are logged and watching continues.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.loadAll(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, w.dir); err != nil {
		return err
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.loadOne(event.Name); err != nil {
				w.log.WithError(err).WithField("path", event.Name).Warn("failed to reload schema override")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("schema watcher error")
		case <-ctx.Done():
			return nil
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) loadAll() error {
	return filepath.Walk(w.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		return w.loadOne(path)
	})
}

// loadOne parses a <dir>/<kind>/<version>.json path and applies it as an
// override. Paths that don't match the expected layout are ignored.
func (w *Watcher) loadOne(path string) error {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], ".json") {
		return nil
	}
	kind, ok := resource.ParseKind(parts[0] + "s")
	if !ok {
		return nil
	}
	ver := Version(strings.TrimSuffix(parts[1], ".json"))
	if !Valid(ver) {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := w.cat.LoadOverride(kind, ver, raw); err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{"kind": kind, "version": ver}).Info("reloaded schema override")
	return nil
}
