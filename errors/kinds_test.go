package errors_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ezex-io/flowrt/errors"
)

func TestNewKindBand(t *testing.T) {
	err := errors.NewKind(errors.KindReference, "unknown upstream node \"foo\"")

	kind, ok := errors.ClassifyKind(err)
	assert.True(t, ok)
	assert.Equal(t, errors.KindReference, kind)
}

func TestClassifyKindAllBands(t *testing.T) {
	cases := map[errors.Kind]*errors.Error{
		errors.KindConfiguration: errors.ErrConfiguration,
		errors.KindValidation:    errors.ErrValidation,
		errors.KindReference:     errors.ErrReference,
		errors.KindProcessing:    errors.ErrProcessing,
		errors.KindResource:      errors.ErrResource,
		errors.KindShutdown:      errors.ErrShutdown,
	}

	for want, err := range cases {
		got, ok := errors.ClassifyKind(err)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestClassifyKindNil(t *testing.T) {
	_, ok := errors.ClassifyKind(nil)
	assert.False(t, ok)
}
