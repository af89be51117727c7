package eventlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverablePrefixDeliversContiguousRun(t *testing.T) {
	events := []Event{{Position: 1}, {Position: 2}, {Position: 3}}
	plan := deliverablePrefix(events, 0, time.Time{}, time.Now())

	assert.Equal(t, events, plan.deliver)
	assert.True(t, plan.gapSince.IsZero())
	assert.Empty(t, plan.skipped)
}

func TestDeliverablePrefixHoldsBackOnFreshGap(t *testing.T) {
	now := time.Now()
	// position 2 hasn't committed yet; only 1 and 3 are visible.
	events := []Event{{Position: 1}, {Position: 3}}
	plan := deliverablePrefix(events, 0, time.Time{}, now)

	require.Len(t, plan.deliver, 1)
	assert.Equal(t, int64(1), plan.deliver[0].Position)
	assert.False(t, plan.gapSince.IsZero(), "gap must now be tracked")
	assert.Empty(t, plan.skipped)
}

func TestDeliverablePrefixKeepsHoldingWithinTimeout(t *testing.T) {
	gapSince := time.Now()
	events := []Event{{Position: 3}}
	plan := deliverablePrefix(events, 1, gapSince, gapSince.Add(gapHoldTimeout/2))

	assert.Empty(t, plan.deliver)
	assert.Equal(t, gapSince, plan.gapSince, "gapSince must not be reset while still within the hold window")
	assert.Empty(t, plan.skipped)
}

func TestDeliverablePrefixSkipsPermanentGapAfterTimeout(t *testing.T) {
	gapSince := time.Now()
	events := []Event{{Position: 3}, {Position: 4}}
	plan := deliverablePrefix(events, 1, gapSince, gapSince.Add(gapHoldTimeout+time.Second))

	require.Len(t, plan.deliver, 2)
	assert.Equal(t, int64(3), plan.deliver[0].Position)
	assert.Equal(t, int64(4), plan.deliver[1].Position)
	require.Len(t, plan.skipped, 1)
	assert.Equal(t, skippedGap{from: 2, to: 2}, plan.skipped[0])
	assert.True(t, plan.gapSince.IsZero(), "gap is resolved once skipped")
}

func TestDeliverablePrefixResolvesGapOnceMissingPositionArrives(t *testing.T) {
	gapSince := time.Now()
	events := []Event{{Position: 2}, {Position: 3}}
	plan := deliverablePrefix(events, 1, gapSince, gapSince.Add(time.Millisecond))

	require.Len(t, plan.deliver, 2)
	assert.True(t, plan.gapSince.IsZero())
	assert.Empty(t, plan.skipped)
}

func TestDeliverablePrefixNoEventsLeavesGapUntouched(t *testing.T) {
	gapSince := time.Now()
	plan := deliverablePrefix(nil, 1, gapSince, gapSince.Add(time.Second))

	assert.Empty(t, plan.deliver)
	assert.Equal(t, gapSince, plan.gapSince)
}
