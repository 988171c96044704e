package container

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/cored/pkg/errs"
	"github.com/cuemby/cored/pkg/types"
)

func TestEngine_Create(t *testing.T) {
	tests := []struct {
		name      string
		req       CreateRequest
		wantErr   errs.Kind
		wantAnErr bool
	}{
		{
			name:    "empty id is rejected",
			req:     CreateRequest{ID: ""},
			wantErr: errs.KindInvalidArgument,
		},
		{
			name: "minimal request succeeds",
			req:  CreateRequest{ID: "c1", Name: "c1-name"},
		},
		{
			name: "invalid image reference is rejected",
			req: CreateRequest{
				ID:     "c2",
				Common: &types.CommonConfig{Image: "UPPER_CASE_not_allowed"},
			},
			wantAnErr: true, // NormalizeImage surfaces its own wrapped error, not a Kind
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _, _, _ := newTestEngine(t)

			rec, err := e.Create(tt.req)
			switch {
			case tt.wantAnErr:
				assert.Error(t, err)
			case tt.wantErr != "":
				assert.True(t, errs.Is(err, tt.wantErr))
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.req.ID, rec.ID)
				assert.Equal(t, types.StateCreated, rec.RuntimeState.State)
			}
		})
	}
}

func TestEngine_Create_DuplicateID(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	_, err := e.Create(CreateRequest{ID: "dup"})
	assert.NoError(t, err)

	_, err = e.Create(CreateRequest{ID: "dup"})
	assert.True(t, errs.Is(err, errs.KindAlreadyExists))
}

func TestEngine_GetAndList(t *testing.T) {
	e, _, _, _, _ := newTestEngine(t)

	_, err := e.Create(CreateRequest{ID: "a"})
	assert.NoError(t, err)
	_, err = e.Create(CreateRequest{ID: "b"})
	assert.NoError(t, err)

	rec, _, err := e.Get("a")
	assert.NoError(t, err)
	assert.Equal(t, "a", rec.ID)

	_, _, err = e.Get("missing")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	assert.Len(t, e.List(), 2)
}
