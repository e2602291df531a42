package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  NewError(ErrRouting, "classifier unavailable"),
			want: "[ROUTING] classifier unavailable",
		},
		{
			name: "with cause",
			err:  NewError(ErrPersistence, "context write failed").WithCause(errors.New("disk full")),
			want: "[PERSISTENCE] context write failed: disk full",
		},
		{
			name: "formatted",
			err:  Errorf(ErrPluginNotFound, "plugin %q is not loaded", "travel"),
			want: `[PLUGIN_NOT_FOUND] plugin "travel" is not loaded`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrExecution, "plugin fault").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{name: "direct", err: NewError(ErrValidation, "bad amount"), want: ErrValidation},
		{name: "wrapped", err: fmt.Errorf("execute: %w", NewError(ErrRouting, "x")), want: ErrRouting},
		{name: "plain error", err: errors.New("plain"), want: ""},
		{name: "nil", err: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("load: %w", NewError(ErrInitialization, "db missing"))
	require.True(t, IsCode(err, ErrInitialization))
	require.False(t, IsCode(err, ErrRouting))
}
