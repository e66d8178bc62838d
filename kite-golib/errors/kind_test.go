package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	cfg := Configf("no user attribute, expected one of %v", []string{"intent", "text"})
	require.True(t, IsConfig(cfg))
	require.False(t, IsContract(cfg))
	assert.Contains(t, cfg.Error(), "configuration error")

	ctr := Contractf("batch of %d", 3)
	require.True(t, IsContract(ctr))
	require.False(t, IsConfig(ctr))

	assert.Equal(t, KindUnknown, KindOf(New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindsThroughWrapping(t *testing.T) {
	err := Wrapf(Contractf("no snapshot"), "predicting")
	require.True(t, IsContract(err))

	var errs Errors
	errs = Append(errs, New("plain"))
	errs = Append(errs, Configf("negative count"))
	require.True(t, IsConfig(errs))
	require.True(t, IsConfig(Wrapf(errs, "validating")))
}
