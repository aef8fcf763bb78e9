package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessor(t *testing.T) {
	var a Accessor
	_, err := a.Get()
	assert.ErrorIs(t, err, ErrNotInjected)

	a.Inject("k1")
	v, err := a.Get()
	require.NoError(t, err)
	assert.Equal(t, "k1", v)

	a.Inject("")
	v, err = a.Get()
	require.NoError(t, err, "an empty injected value is still injected")
	assert.Empty(t, v)
}
