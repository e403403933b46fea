package autoscaler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanScaleSpotChecks(t *testing.T) {
	cases := []struct {
		queueSize, warmIdle, stopped int
		restart, create              int
	}{
		{0, 0, 0, 0, 0},
		{0, 5, 3, 0, 0},
		{3, 3, 2, 0, 0},
		{2, 5, 0, 0, 0},
		{4, 1, 2, 2, 1},
		{5, 0, 10, 5, 0},
		{3, 1, 0, 0, 2},
	}
	for _, c := range cases {
		restart, create := PlanScale(c.queueSize, c.warmIdle, c.stopped)
		require.Equal(t, c.restart, restart, "restart for %+v", c)
		require.Equal(t, c.create, create, "create for %+v", c)
	}
}

func TestPlanScaleNeverExceedsStoppedWhenRestarting(t *testing.T) {
	restart, create := PlanScale(10, 0, 3)
	require.Equal(t, 3, restart)
	require.Equal(t, 7, create)
}
