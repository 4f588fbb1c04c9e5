// Package resources locates and loads the schema/model directory tree:
// *.schema files under a "schema" subdirectory, compiled once each into
// a Schema keyed by its declared Kind, and *.rig files under a "rigs"
// subdirectory, compiled against whichever loaded Schema their
// [general] type names, keyed by file stem as a rig id. Grounded on
// original_source/holyrig/src/resources.rs's Resources::load, which
// does exactly this two-pass directory scan (schemas first, then rig
// files resolved against them), and on a
// internal/directories package for locating the base directory via
// github.com/adrg/xdg.
package resources

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"holyrig/internal/model"
	"holyrig/internal/schema"
)

// appName names the subdirectory holyrig creates under the XDG config
// home, mirroring a lowercased-AppName convention.
const appName = "holyrig"

const (
	schemaDir = "schema"
	rigsDir   = "rigs"

	schemaExt = ".schema"
	modelExt  = ".rig"
)

// ConfigDir returns $XDG_CONFIG_HOME/holyrig, creating it if necessary.
func ConfigDir() string {
	dir := filepath.Join(xdg.ConfigHome, appName)
	os.MkdirAll(dir, 0o755)
	return dir
}

// Store holds every compiled Schema and Model found under a resource
// directory. Concurrent reads are safe; ReloadModel recompiles one rig's
// Model in place, for hot-reload.
type Store struct {
	mu      sync.RWMutex
	schemas map[string]*schema.Schema // by Schema.Kind
	models  map[string]*model.Model   // by rig id (model file stem)
	paths   map[string]string         // rig id -> source .rig file path
}

// NewStore builds an empty Store; callers typically follow with Load.
func NewStore() *Store {
	return &Store{
		schemas: map[string]*schema.Schema{},
		models:  map[string]*model.Model{},
		paths:   map[string]string{},
	}
}

// Schema looks up a compiled Schema by its declared kind.
func (s *Store) Schema(kind string) (*schema.Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schemas[kind]
	return sch, ok
}

// Model looks up a compiled Model by rig id.
func (s *Store) Model(rigID string) (*model.Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[rigID]
	return m, ok
}

// RigIDs returns every rig id with a loaded Model, in no particular
// order.
func (s *Store) RigIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.models))
	for id := range s.models {
		ids = append(ids, id)
	}
	return ids
}

// ModelPath returns the source .rig file a rig id was loaded from, for
// the watcher to match filesystem events against.
func (s *Store) ModelPath(rigID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[rigID]
	return p, ok
}

// Load scans dir/schema and dir/rigs and populates s, replacing any
// previously loaded schemas and models entirely. Errors from individual
// files are collected and returned together rather than aborting the
// whole load on the first bad file, so one broken model doesn't prevent
// every other rig from starting.
func (s *Store) Load(dir string) error {
	schemas, errs := loadSchemas(filepath.Join(dir, schemaDir))
	models, paths, modelErrs := loadModels(filepath.Join(dir, rigsDir), schemas)
	errs = append(errs, modelErrs...)

	s.mu.Lock()
	s.schemas = schemas
	s.models = models
	s.paths = paths
	s.mu.Unlock()

	if len(errs) > 0 {
		return joinErrors(errs)
	}
	return nil
}

// ReloadModel recompiles a single .rig file and installs the result in
// place, for the hot-reload path: a changed model file shouldn't force
// a full directory rescan or disturb any other rig's compiled Model.
func (s *Store) ReloadModel(path string) (rigID string, m *model.Model, err error) {
	rigID = rigFileStem(path)
	src, err := os.ReadFile(path)
	if err != nil {
		return rigID, nil, err
	}

	head, err := peekGeneralType(src)
	if err != nil {
		return rigID, nil, fmt.Errorf("%s: %w", path, err)
	}

	s.mu.RLock()
	sch, ok := lookupSchema(s.schemas, head)
	s.mu.RUnlock()
	if !ok {
		return rigID, nil, fmt.Errorf("%s: no loaded schema named %q", path, head)
	}

	m, err = model.Compile(sch, src)
	if err != nil {
		return rigID, nil, fmt.Errorf("%s: %w", path, err)
	}

	s.mu.Lock()
	s.models[rigID] = m
	s.paths[rigID] = path
	s.mu.Unlock()
	return rigID, m, nil
}

func loadSchemas(dir string) (map[string]*schema.Schema, []error) {
	out := map[string]*schema.Schema{}
	var errs []error
	for _, path := range matchingFiles(dir, schemaExt) {
		src, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sch, err := schema.Parse(string(src))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		out[sch.Kind] = sch
	}
	return out, errs
}

func loadModels(dir string, schemas map[string]*schema.Schema) (map[string]*model.Model, map[string]string, []error) {
	out := map[string]*model.Model{}
	paths := map[string]string{}
	var errs []error
	for _, path := range matchingFiles(dir, modelExt) {
		src, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		head, err := peekGeneralType(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		sch, ok := lookupSchema(schemas, head)
		if !ok {
			errs = append(errs, fmt.Errorf("%s: no loaded schema named %q", path, head))
			continue
		}
		m, err := model.Compile(sch, src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		id := rigFileStem(path)
		out[id] = m
		paths[id] = path
	}
	return out, paths, errs
}

func matchingFiles(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out
}

// lookupSchema matches kind against a loaded Schema's Kind
// case-insensitively, the same tolerance Schema.Enum extends to enum
// name lookups and model.Compile's rule 1 extends to this exact field.
func lookupSchema(schemas map[string]*schema.Schema, kind string) (*schema.Schema, bool) {
	for k, sch := range schemas {
		if strings.EqualFold(k, kind) {
			return sch, true
		}
	}
	return nil, false
}

func rigFileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type modelHead struct {
	General struct {
		Type string `toml:"type"`
	} `toml:"general"`
}

// peekGeneralType reads only the [general].type field of a model
// source, to pick the right Schema before running the full compiler
// (which performs its own, authoritative version of this same check).
func peekGeneralType(src []byte) (string, error) {
	var head modelHead
	if err := toml.Unmarshal(src, &head); err != nil {
		return "", err
	}
	if head.General.Type == "" {
		return "", fmt.Errorf("missing [general].type")
	}
	return head.General.Type, nil
}

func joinErrors(errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%d resource file(s) failed to load:\n%s", len(errs), strings.Join(msgs, "\n"))
}
