package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	id := NewID()
	require.NoError(t, id.Validate())
	assert.False(t, id.IsZero())
	assert.Equal(t, string(id), id.String())

	// Two fresh IDs must differ.
	assert.NotEqual(t, id, NewID())
}

func TestID_Validate(t *testing.T) {
	tests := []struct {
		name    string
		id      ID
		wantErr bool
	}{
		{name: "valid uuid", id: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "unset", id: "", wantErr: true},
		{name: "not a uuid", id: "step-1", wantErr: true},
		{name: "truncated uuid", id: "550e8400-e29b-41d4", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestID_IsZero(t *testing.T) {
	var zero ID
	assert.True(t, zero.IsZero())
	assert.False(t, NewID().IsZero())
}
