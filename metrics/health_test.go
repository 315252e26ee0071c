package metrics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lease-engine/metrics"
)

func TestScoreHealth_WeightedBuckets(t *testing.T) {
	score := metrics.ScoreHealth(metrics.HealthInputs{
		Occupancy: dec("0.92"), // 80
		NOIMargin: dec("0.70"), // 100
		CreditMix: dec("0.30"), // 60, floor reached exactly
		Retention: dec("0.20"), // below every floor
	})

	// (80*30 + 100*30 + 60*20 + 0*20) / 100
	decEqual(t, "66", score.Score)
	require.Len(t, score.Components, 4)
	assert.Equal(t, "occupancy", score.Components[0].Name)
	assert.Equal(t, 80, score.Components[0].Points)
	assert.Equal(t, 30, score.Components[0].Weight)
	assert.Equal(t, 60, score.Components[2].Points)
	assert.Equal(t, 0, score.Components[3].Points)
}

func TestScoreHealth_Extremes(t *testing.T) {
	best := metrics.ScoreHealth(metrics.HealthInputs{
		Occupancy: dec("1"), NOIMargin: dec("0.9"), CreditMix: dec("1"), Retention: dec("1"),
	})
	decEqual(t, "100", best.Score)

	worst := metrics.ScoreHealth(metrics.HealthInputs{})
	assert.True(t, worst.Score.IsZero())
}
