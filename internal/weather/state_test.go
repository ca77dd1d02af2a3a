package weather

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateText(t *testing.T) {
	for _, s := range []State{StateOnline, StateDegradedOfflineUsingCache, StateOfflineNoWeatherData} {
		raw, err := json.Marshal(s)
		require.NoError(t, err)

		var back State
		require.NoError(t, json.Unmarshal(raw, &back))
		assert.Equal(t, s, back)
	}

	var s State
	assert.Error(t, s.UnmarshalText([]byte("sideways")))
	assert.Equal(t, "unknown", State(42).String())
}
