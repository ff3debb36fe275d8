// SPDX-License-Identifier: GPL-3.0-or-later

package component

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/slipwayhq/slipway/internal/logger"
	"github.com/slipwayhq/slipway/internal/permission"
)

// manifest mirrors slipway_component.json: unknown fields are
// rejected so a typo in a component package fails loudly instead of being
// silently ignored.
type manifest struct {
	Publisher   string          `json:"publisher"`
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Description string          `json:"description,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Callouts    map[string]struct {
		Component string                   `json:"component"`
		Allow     []permission.Permission  `json:"allow,omitempty"`
		Deny      []permission.Permission  `json:"deny,omitempty"`
	} `json:"callouts,omitempty"`
	RequiredPermissions []permission.Permission `json:"requiredPermissions,omitempty"`
	Runner              string                  `json:"runner,omitempty"`
	TimeoutSeconds      float64                 `json:"timeoutSeconds,omitempty"`
}

// DirLoader is a reference Loader implementation that reads component
// packages laid out as directories: slipway_component.json plus optional
// input_schema.json/output_schema.json and one of run.wasm/run.js/a
// fragment Rig JSON. Registry lookup and
// tarball extraction are the caller's concern; this loader only reads
// directories rooted at a single search path, resolved once per Ref and
// cached for the process lifetime.
type DirLoader struct {
	root string

	mu       sync.Mutex
	byFamily map[string][]*semver.Version // loaded versions per publisher.name
	defs     *lru.Cache[string, *Definition]

	watcher *fsnotify.Watcher
}

// NewDirLoader creates a DirLoader rooted at dir, where each immediate
// subdirectory is "publisher.name.version" holding one component package.
func NewDirLoader(dir string) (*DirLoader, error) {
	cache, err := lru.New[string, *Definition](256)
	if err != nil {
		return nil, fmt.Errorf("component: creating definition cache: %w", err)
	}
	return &DirLoader{
		root:     dir,
		byFamily: map[string][]*semver.Version{},
		defs:     cache,
	}, nil
}

// Watch starts a background fsnotify watch on the loader's root directory:
// any create/write/remove/rename under it drops the discovery and
// definition caches, so the next Load re-reads package directories from
// disk instead of serving a stale Definition. Package registry lookup
// and tarball extraction happen upstream of this loader; this only
// reacts to changes already materialised on disk. Safe to call at most
// once per loader; returns the fsnotify error if the watch can't start.
func (l *DirLoader) Watch(log logger.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("component: starting directory watch: %w", err)
	}
	if err := w.Add(l.root); err != nil {
		_ = w.Close()
		return fmt.Errorf("component: watching %s: %w", l.root, err)
	}
	l.watcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if log != nil {
					log.Debugf("component: %s changed, invalidating loader caches", event.Name)
				}
				l.invalidate()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if log != nil {
					log.Warnf("component: directory watch error: %v", err)
				}
			}
		}
	}()
	return nil
}

// invalidate drops every cached Definition and discovered version so the
// next Load re-reads from disk.
func (l *DirLoader) invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byFamily = map[string][]*semver.Version{}
	l.defs.Purge()
}

// Close stops the directory watch started by Watch, if any.
func (l *DirLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Load implements Loader.
func (l *DirLoader) Load(ctx context.Context, ref Ref) (*Definition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byFamily[ref.Family()]; !ok {
		if err := l.discover(ref.Family()); err != nil {
			return nil, err
		}
	}

	best, ok := ref.SelectHighest(l.byFamily[ref.Family()])
	if !ok {
		return nil, fmt.Errorf("component: no loaded version of %s satisfies %q", ref.Family(), ref.Version)
	}
	resolvedRef := Ref{Publisher: ref.Publisher, Name: ref.Name, Version: best.String()}
	if def, ok := l.defs.Get(resolvedRef.String()); ok {
		return def, nil
	}
	def, err := l.loadDir(filepath.Join(l.root, resolvedRef.String()), resolvedRef)
	if err != nil {
		return nil, err
	}
	l.defs.Add(resolvedRef.String(), def)
	return def, nil
}

// discover scans the root directory for packages belonging to family and
// records their versions, so subsequent constraint matches don't need a
// directory walk.
func (l *DirLoader) discover(family string) error {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return fmt.Errorf("component: reading %s: %w", l.root, err)
	}
	var versions []*semver.Version
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ref, err := ParseRef(e.Name())
		if err != nil || ref.Family() != family {
			continue
		}
		v, err := semver.NewVersion(ref.Version)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	l.byFamily[family] = versions
	return nil
}

func (l *DirLoader) loadDir(dir string, ref Ref) (*Definition, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "slipway_component.json"))
	if err != nil {
		return nil, fmt.Errorf("component: reading manifest for %s: %w", ref, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("component: parsing manifest for %s: %w", ref, err)
	}

	def := &Definition{
		Ref:                 ref,
		Description:         m.Description,
		RequiredPermissions: m.RequiredPermissions,
		Runner:              inferRunner(m.Runner, dir),
		RunnerVersionTag:    "slipway-v1",
	}
	if m.TimeoutSeconds > 0 {
		def.Timeout = time.Duration(m.TimeoutSeconds * float64(time.Second))
	}

	if schema, err := compileSchema(dir, "input_schema.json", m.Input); err != nil {
		return nil, fmt.Errorf("component: %s input schema: %w", ref, err)
	} else {
		def.InputSchema = schema
	}
	if schema, err := compileSchema(dir, "output_schema.json", m.Output); err != nil {
		return nil, fmt.Errorf("component: %s output schema: %w", ref, err)
	} else {
		def.OutputSchema = schema
	}

	for handle, c := range m.Callouts {
		target, err := ParseRef(c.Component)
		if err != nil {
			return nil, fmt.Errorf("component: %s callout %q: %w", ref, handle, err)
		}
		def.Callouts = append(def.Callouts, CalloutBinding{
			Handle: handle,
			Target: target,
			Allow:  c.Allow,
			Deny:   c.Deny,
		})
	}

	payload, err := readPayload(dir, def.Runner)
	if err != nil {
		return nil, fmt.Errorf("component: %s payload: %w", ref, err)
	}
	def.Payload = payload

	return def, nil
}

func inferRunner(declared, dir string) RunnerKind {
	switch RunnerKind(declared) {
	case RunnerWasm, RunnerJS, RunnerFragment:
		return RunnerKind(declared)
	}
	if fileExists(filepath.Join(dir, "run.wasm")) {
		return RunnerWasm
	}
	if fileExists(filepath.Join(dir, "run.js")) {
		return RunnerJS
	}
	return RunnerFragment
}

func readPayload(dir string, kind RunnerKind) ([]byte, error) {
	switch kind {
	case RunnerWasm:
		return os.ReadFile(filepath.Join(dir, "run.wasm"))
	case RunnerJS:
		return os.ReadFile(filepath.Join(dir, "run.js"))
	default:
		return os.ReadFile(filepath.Join(dir, "rig.json"))
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// compileSchema compiles a component's input/output schema, preferring an
// inline schema in the manifest, falling back to a sibling
// input_schema.json/output_schema.json file.
func compileSchema(dir, filename string, inline json.RawMessage) (*jsonschema.Schema, error) {
	var raw []byte
	switch {
	case len(inline) > 0:
		raw = inline
	default:
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		raw = data
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := filename
	if err := compiler.AddResource(resourceName, doc); err != nil {
		return nil, fmt.Errorf("registering schema: %w", err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return schema, nil
}
