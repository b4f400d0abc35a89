package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("size", "stop equals entry"), KindValidation},
		{"transient", Transient("submit", base), KindTransient},
		{"permanent", Permanent("submit", base), KindPermanent},
		{"wrapped", fmt.Errorf("open: %w", Permanent("submit", base)), KindPermanent},
		{"plain", base, ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestExhaustedKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("timeout")
	err := Exhausted("submit_order", 3, cause)

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, err.Attempts)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "size: stop equals entry", Validation("size", "stop equals entry").Error())
	assert.Equal(t, "submit: boom", Transient("submit", errors.New("boom")).Error())
}
