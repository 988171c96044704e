// Package store implements the Container Record store (C3): the
// in-memory id and name indexes plus their on-disk JSON mirror under
// each container's RootPath, in the CRUD-interface style the teacher's
// pkg/storage.Store exposes, narrowed to one entity (the Container
// Record) instead of a cluster's worth.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

// entry bundles a Record with the Machine wrapping it, so a single
// store lookup hands a caller both the data and its state machine.
type entry struct {
	rec     *types.Record
	machine *state.Machine
}

// Store is the process-wide Container Record index: id -> Record and
// name -> id, both guarded by a single RWMutex. Records are written to
// RootPath/<id>/container.json by Create and Persist; Remove only drops
// the index entries and does not touch disk.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*entry
	name map[string]string // name -> id
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]*entry),
		name: make(map[string]string),
	}
}

// Create registers rec, failing with AlreadyExists if its id or name
// is already taken. It persists rec to disk before making it visible
// to lookups, so a crash mid-create never leaves a name reserved
// without a backing file.
func (s *Store) Create(rec *types.Record) (*state.Machine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[rec.ID]; ok {
		return nil, errs.New(errs.KindAlreadyExists, "container id "+rec.ID)
	}
	if rec.Name != "" {
		if _, ok := s.name[rec.Name]; ok {
			return nil, errs.New(errs.KindAlreadyExists, "container name "+rec.Name)
		}
	}

	if err := persist(rec); err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "persist container record", err)
	}

	m := state.New(rec)
	s.byID[rec.ID] = &entry{rec: rec, machine: m}
	if rec.Name != "" {
		s.name[rec.Name] = rec.ID
	}
	return m, nil
}

// Get looks up a record and its machine by id.
func (s *Store) Get(id string) (*types.Record, *state.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, nil, errs.New(errs.KindNotFound, "container "+id)
	}
	return e.rec, e.machine, nil
}

// GetByName resolves a container name to its id, then behaves like Get.
func (s *Store) GetByName(name string) (*types.Record, *state.Machine, error) {
	s.mu.RLock()
	id, ok := s.name[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, errs.New(errs.KindNotFound, "container name "+name)
	}
	return s.Get(id)
}

// List returns every record currently indexed, in no particular order.
func (s *Store) List() []*types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.Record, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, e.rec)
	}
	return out
}

// LoadAll scans rootPath for previously persisted container records
// and populates the store's id and name indexes, one entry per
// <rootPath>/<id>/container.json found. Each cored invocation starts
// with an empty in-memory store, so every CLI subcommand calls this
// first to see containers created by earlier invocations. A directory
// with no container.json (e.g. left behind mid-create) is skipped
// rather than failing the whole sweep.
func (s *Store) LoadAll(rootPath string) error {
	entries, err := os.ReadDir(rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		rec, err := Load(filepath.Join(rootPath, de.Name(), "container.json"))
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				continue
			}
			return err
		}

		s.mu.Lock()
		s.byID[rec.ID] = &entry{rec: rec, machine: state.New(rec)}
		if rec.Name != "" {
			s.name[rec.Name] = rec.ID
		}
		s.mu.Unlock()
	}
	return nil
}

// Persist rewrites the on-disk container.json for rec. Callers hold
// rec.Lock for the surrounding state change and call Persist before
// releasing it, so a reader never observes an in-memory state with no
// corresponding file on disk.
func (s *Store) Persist(rec *types.Record) error {
	if err := persist(rec); err != nil {
		return errs.Wrap(errs.KindRuntimeFailure, "persist container record", err)
	}
	return nil
}

// Remove drops id from both indexes. It does not touch disk; the
// delete pipeline (C8) removes RootPath/<id> itself once every other
// resource has been torn down, so the record file disappears as part
// of that same rm -rf rather than a separate step here.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return errs.New(errs.KindNotFound, "container "+id)
	}
	delete(s.byID, id)
	if e.rec.Name != "" {
		delete(s.name, e.rec.Name)
	}
	return nil
}

// persist writes rec as indented JSON to its RecordPath, via a
// write-to-temp-then-rename so a crash mid-write never corrupts the
// previous container.json.
func persist(rec *types.Record) error {
	dir := filepath.Dir(rec.RecordPath())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := rec.RecordPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, rec.RecordPath())
}

// Load reads a previously persisted container.json back into a
// Record, used by the daemon's startup reconciliation sweep over
// RootPath.
func Load(path string) (*types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, "read container record", err)
	}
	var rec types.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errs.Wrap(errs.KindRuntimeFailure, "decode container record", err)
	}
	return &rec, nil
}
