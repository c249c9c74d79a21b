// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package prompts

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed packs/*.yaml
var embeddedPacks embed.FS

// baseFile holds the shared stage templates.
const baseFile = "base.yaml"

// Registry serves prompt packs by analysis type.
//
// The embedded packs are always loaded first. When a directory is
// configured, every *.yaml file in it replaces the embedded pack of the
// same type, and a base.yaml there replaces the shared templates.
//
// Directory structure:
//
//	prompts/
//	  base.yaml         # optional shared templates
//	  industry.yaml     # type: Industry Report
//	  custom/sales.yaml # subdirectories are scanned too
type Registry struct {
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	packs map[AnalysisType]*Pack
}

// Option configures a Registry.
type Option func(*Registry)

// WithDirectory adds a directory of override packs.
func WithDirectory(dir string) Option {
	return func(r *Registry) { r.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry loads the packs.
//
// Example:
//
//	registry, err := prompts.NewRegistry(prompts.WithDirectory("./prompts"))
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		logger: zap.NewNop(),
		packs:  make(map[AnalysisType]*Pack),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns the pack for t.
func (r *Registry) Get(t AnalysisType) (*Pack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[t]
	if !ok {
		return nil, fmt.Errorf("no prompt pack for analysis type %q", t)
	}
	return p, nil
}

// Types returns the analysis types that have a pack, in canonical order.
func (r *Registry) Types() []AnalysisType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []AnalysisType
	for _, t := range AnalysisTypes() {
		if _, ok := r.packs[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Reload rebuilds the pack set from the embedded packs and the directory.
// On error the previous set stays in place.
func (r *Registry) Reload(ctx context.Context) error {
	embedded, err := fs.Sub(embeddedPacks, "packs")
	if err != nil {
		return fmt.Errorf("failed to open embedded packs: %w", err)
	}
	base, packs, err := loadFS(embedded, "embedded")
	if err != nil {
		return err
	}

	if r.dir != "" {
		if _, err := os.Stat(r.dir); err != nil {
			return fmt.Errorf("prompt directory: %w", err)
		}
		dirBase, dirPacks, err := loadFS(os.DirFS(r.dir), r.dir)
		if err != nil {
			return err
		}
		if dirBase != nil {
			base = dirBase
		}
		for t, p := range dirPacks {
			packs[t] = p
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var shared Templates
	if base != nil {
		shared = *base
	}
	for _, p := range packs {
		p.inherit(shared)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p.Source, err)
		}
	}

	r.mu.Lock()
	r.packs = packs
	r.mu.Unlock()

	r.logger.Debug("Prompt packs loaded",
		zap.Int("packs", len(packs)),
		zap.String("dir", r.dir))
	return nil
}

// loadFS reads every YAML file under fsys. base.yaml yields the shared
// templates; other files are packs keyed by their type.
func loadFS(fsys fs.FS, origin string) (*Templates, map[AnalysisType]*Pack, error) {
	var base *Templates
	packs := make(map[AnalysisType]*Pack)

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		source := origin + "/" + p

		if path.Base(p) == baseFile {
			var doc struct {
				Templates Templates `yaml:"templates"`
			}
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("failed to load %s: %w", source, err)
			}
			base = &doc.Templates
			return nil
		}

		pack, err := ParsePack(data)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", source, err)
		}
		t, err := ParseAnalysisType(string(pack.Type))
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", source, err)
		}
		pack.Type = t
		pack.Source = source
		packs[t] = pack
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load prompt packs: %w", err)
	}
	return base, packs, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch reloads the packs whenever a YAML file in the directory changes and
// reports each reload on the returned channel. The channel closes when ctx
// ends. A failed reload keeps the previous packs and is reported as an
// "error" update.
func (r *Registry) Watch(ctx context.Context) (<-chan PackUpdate, error) {
	if r.dir == "" {
		return nil, fmt.Errorf("no prompt directory configured")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watchDirectory(watcher, r.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	ch := make(chan PackUpdate, 10)

	go func() {
		defer func() { _ = watcher.Close() }()
		defer close(ch)

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Create == fsnotify.Create {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watchDirectory(watcher, event.Name)
						continue
					}
				}
				if !isYAML(event.Name) {
					continue
				}

				var action string
				switch {
				case event.Op&fsnotify.Write == fsnotify.Write:
					action = "modified"
				case event.Op&fsnotify.Create == fsnotify.Create:
					action = "created"
				case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
					action = "deleted"
				default:
					continue
				}
				r.send(ctx, ch, r.handleFileChange(ctx, event.Name, action))

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.send(ctx, ch, PackUpdate{Action: "error", Error: err, Timestamp: time.Now()})
			}
		}
	}()

	return ch, nil
}

func (r *Registry) send(ctx context.Context, ch chan<- PackUpdate, u PackUpdate) {
	select {
	case ch <- u:
	case <-ctx.Done():
	}
}

func (r *Registry) handleFileChange(ctx context.Context, name, action string) PackUpdate {
	if err := r.Reload(ctx); err != nil {
		r.logger.Warn("Prompt reload failed, keeping previous packs",
			zap.String("path", name),
			zap.Error(err))
		return PackUpdate{Path: name, Action: "error", Error: err, Timestamp: time.Now()}
	}
	r.logger.Info("Prompt packs reloaded",
		zap.String("path", name),
		zap.String("action", action))
	return PackUpdate{Path: name, Action: action, Timestamp: time.Now()}
}

// watchDirectory recursively adds directories to the watcher.
func watchDirectory(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := watcher.Add(p); err != nil {
				return fmt.Errorf("failed to watch directory %s: %w", p, err)
			}
		}
		return nil
	})
}
