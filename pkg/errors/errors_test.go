package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  NewError(CodeProcessNotFound, "no definition for orders:checkout", nil),
			want: "[process_not_found] no definition for orders:checkout",
		},
		{
			name: "with cause",
			err:  NewError(CodeStorage, "save failed", errors.New("disk full")),
			want: "[storage_error] save failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrapAndCode(t *testing.T) {
	err := fmt.Errorf("start: %w", NewError(CodeProcessNotFound, "lookup", ErrProcessNotFound))

	assert.True(t, errors.Is(err, ErrProcessNotFound))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, CodeProcessNotFound, CodeOf(err))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.False(t, IsNotFound(ErrUnhandledAction))
}
