package railfeed_test

import (
	"testing"

	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBerthChanges(t *testing.T) {
	ts := railfeed.LocalTime(1700000000000)
	base := railfeed.NormalizedRecord{LocalTimestamp: ts, AreaID: "Q1", Description: "1A23", FromBerth: "0101", ToBerth: "0103"}

	t.Run("Step vacates from and occupies to", func(t *testing.T) {
		rec := base
		rec.MessageType = railfeed.BerthStep
		changes := railfeed.BerthChanges(rec)
		require.Len(t, changes, 2)
		assert.Equal(t, railfeed.BerthChange{Key: "berth:Q1:0101", Clear: true}, changes[0])
		assert.Equal(t, "berth:Q1:0103", changes[1].Key)
		assert.False(t, changes[1].Clear)
		assert.Equal(t, railfeed.BerthState{AreaID: "Q1", Berth: "0103", Description: "1A23", UpdatedAt: ts}, changes[1].State)
	})

	t.Run("Cancel only vacates", func(t *testing.T) {
		rec := base
		rec.MessageType = railfeed.BerthCancel
		rec.ToBerth = ""
		changes := railfeed.BerthChanges(rec)
		require.Len(t, changes, 1)
		assert.True(t, changes[0].Clear)
		assert.Equal(t, "berth:Q1:0101", changes[0].Key)
	})

	t.Run("Interpose only occupies", func(t *testing.T) {
		rec := base
		rec.MessageType = railfeed.BerthInterpose
		rec.FromBerth = ""
		changes := railfeed.BerthChanges(rec)
		require.Len(t, changes, 1)
		assert.False(t, changes[0].Clear)
		assert.Equal(t, "berth:Q1:0103", changes[0].Key)
	})

	t.Run("Empty berth ids are ignored", func(t *testing.T) {
		rec := railfeed.NormalizedRecord{MessageType: railfeed.BerthStep, AreaID: "Q1"}
		assert.Empty(t, railfeed.BerthChanges(rec))
	})
}
