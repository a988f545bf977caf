package checkpoint_test

import (
	"encoding/json"
	"testing"

	"github.com/randalmurphal/joingraph/pkg/joingraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	state := map[string]json.RawMessage{
		"messages": json.RawMessage(`[{"id":"m1","role":"user","content":"hi"}]`),
		"epoch":    json.RawMessage(`1`),
	}
	cp := checkpoint.New("run-1", "fanout", 3, state, 7).
		WithFrontier([]string{"assistant_1", "assistant_2"}, map[string]checkpoint.JoinState{
			"reducer": {Waiting: true, Polls: 2},
		}).
		WithIterations(5).
		WithAttempt(2)

	data, err := cp.Marshal()
	require.NoError(t, err)

	got, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.Version, got.Version)
	assert.Equal(t, "fanout", got.NodeID)
	assert.Equal(t, 3, got.Sequence)
	assert.Equal(t, uint64(7), got.StateVersion)
	assert.Equal(t, []string{"assistant_1", "assistant_2"}, got.Pending)
	assert.Equal(t, checkpoint.JoinState{Waiting: true, Polls: 2}, got.Joins["reducer"])
	assert.Equal(t, 5, got.Iterations)
	assert.Equal(t, 2, got.Attempt)
	assert.JSONEq(t, `1`, string(got.State["epoch"]))
}

func TestUnmarshalRejectsOtherVersions(t *testing.T) {
	_, err := checkpoint.Unmarshal([]byte(`{"version":1,"run_id":"r"}`))
	assert.ErrorIs(t, err, checkpoint.ErrVersionMismatch)

	_, err = checkpoint.Unmarshal([]byte(`not json`))
	assert.Error(t, err)
}
