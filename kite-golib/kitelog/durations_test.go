package kitelog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDurationsFields(t *testing.T) {
	var d Durations
	d.Record("forward", time.Second)
	d.Record("backward", 2*time.Second)
	d.Record("forward", time.Second)

	assert.Equal(t, 2*time.Second, d.Total("forward"))

	fields := d.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "forward", fields[0].Key)
	assert.Equal(t, "backward", fields[1].Key)
}

func TestDurationsFlush(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	var d Durations
	d.Record("step", time.Millisecond)
	d.Flush(zap.New(core), "train step")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "train step", logs.All()[0].Message)
	assert.Empty(t, d)
}
