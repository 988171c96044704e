package container

import (
	"time"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/state"
	"github.com/cuemby/cored/pkg/types"
)

// CreateRequest is the input to Create: everything needed to register
// a new Container Record before the start pipeline ever runs.
type CreateRequest struct {
	ID      string
	Name    string
	Runtime string
	Common  *types.CommonConfig
	Host    *types.HostConfig
}

// Create registers a new Container Record in the store at state
// Created. It does not touch the runtime or the filesystem beyond
// persisting container.json; that work belongs to the start pipeline.
func (e *Engine) Create(req CreateRequest) (*types.Record, error) {
	if req.ID == "" {
		return nil, errs.New(errs.KindInvalidArgument, "container id must not be empty")
	}
	if req.Common == nil {
		req.Common = &types.CommonConfig{}
	}
	if req.Host == nil {
		req.Host = &types.HostConfig{}
	}
	if err := req.Common.NormalizeImage(); err != nil {
		return nil, err
	}

	rec := &types.Record{
		ID:        req.ID,
		Name:      req.Name,
		Runtime:   req.Runtime,
		RootPath:  e.Config.RootPath,
		StatePath: e.Config.StatePath,
		Common:    req.Common,
		Host:      req.Host,
		RuntimeState: types.RuntimeState{
			State: types.StateCreated,
		},
		CreatedAt: time.Now(),
	}

	if _, err := e.Store.Create(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns a container's record and state machine by id.
func (e *Engine) Get(id string) (*types.Record, *state.Machine, error) {
	return e.Store.Get(id)
}

// List returns every record the engine currently tracks.
func (e *Engine) List() []*types.Record {
	return e.Store.List()
}
