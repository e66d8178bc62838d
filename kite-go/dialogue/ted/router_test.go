package ted

import (
	"testing"

	"github.com/kiteco/dialogue/kite-golib/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteSingleVariant(t *testing.T) {
	sims := [][]float64{{0.1, 0.9, 0.0}}
	conf := [][]float64{{0.2, 0.6, 0.2}}

	r, err := Router{Threshold: 0.5}.Route(sims, conf)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Action)
	assert.Equal(t, 0, r.Row)
	assert.False(t, r.IsEndToEnd)

	r, err = Router{OnlyEndToEnd: true, Threshold: 0.5}.Route(sims, conf)
	require.NoError(t, err)
	assert.True(t, r.IsEndToEnd)
}

func TestRouteTwoVariants(t *testing.T) {
	sims := [][]float64{{0.6, 0.1}, {0.2, 0.8}}

	tt := []struct {
		name    string
		e2eConf float64
		e2eSims []float64
		row     int
	}{
		{"confident end-to-end wins", 0.55, []float64{0.2, 0.8}, 1},
		{"unconfident end-to-end loses", 0.3, []float64{0.2, 0.8}, 0},
		{"less similar end-to-end loses", 0.9, []float64{0.2, 0.5}, 0},
		{"ties go to intents", 0.9, []float64{0.2, 0.6}, 0},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			sims[1] = tc.e2eSims
			conf := [][]float64{{0.9, 0.1}, {1 - tc.e2eConf, tc.e2eConf}}
			r, err := Router{Threshold: 0.5}.Route(sims, conf)
			require.NoError(t, err)
			assert.Equal(t, tc.row, r.Row)
			assert.Equal(t, tc.row == 1, r.IsEndToEnd)
			assert.Equal(t, sims[tc.row], r.Similarities)
		})
	}
}

func TestRouteRejectsLargeBatches(t *testing.T) {
	rows := [][]float64{{1}, {1}, {1}}
	_, err := Router{}.Route(rows, rows)
	require.Error(t, err)
	assert.True(t, errors.IsContract(err))
	assert.Contains(t, err.Error(), "3")
}
