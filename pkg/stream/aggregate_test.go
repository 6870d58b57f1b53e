package stream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamdb/pkg/stream"
)

func TestPropertyAggregatorCollapsesAdjacentRuns(t *testing.T) {
	in := []map[string]any{
		{"a": 1, "b": 2, "c": map[string]any{"d": 3, "e": 4}},
		{"a": 3, "b": 2, "c": map[string]any{"d": 5, "e": 4}},
		{"a": 4, "b": 2, "c": map[string]any{"d": 6, "e": 4}},
		{"a": 7, "b": 9, "c": map[string]any{"d": 1, "e": 2}},
	}
	p := &stream.PropertyAggregator{Properties: []string{"b", "c.e"}}

	out := p.Process(in, nil, nil)
	require.Len(t, out, 2)

	assert.Equal(t, map[string]any{
		"a":               []any{1, 3, 4},
		"b":               2,
		"c":               map[string]any{"d": []any{3, 5, 6}, "e": 4},
		"groupedByValues": []any{2, 4},
	}, out[0])

	// a run of one passes through untouched
	assert.Equal(t, map[string]any{
		"a": 7, "b": 9, "c": map[string]any{"d": 1, "e": 2},
	}, out[1])
}

func TestPropertyAggregatorAdjacencyOnly(t *testing.T) {
	// equal keys separated by a different key do not merge
	in := []map[string]any{
		{"a": 1, "verb": "post"},
		{"a": 2, "verb": "share"},
		{"a": 3, "verb": "post"},
	}
	p := &stream.PropertyAggregator{Properties: []string{"verb"}}

	out := p.Process(in, nil, nil)
	require.Len(t, out, 3)
	for _, rec := range out {
		_, grouped := rec["groupedByValues"]
		assert.False(t, grouped)
	}
}

func TestPropertyAggregatorAbsentAttribute(t *testing.T) {
	// records missing a grouped attribute cluster under the shorter key
	in := []map[string]any{
		{"a": 1, "c": "x"},
		{"a": 2, "c": "x"},
	}
	p := &stream.PropertyAggregator{Properties: []string{"b", "c"}}

	out := p.Process(in, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, map[string]any{
		"a":               []any{1, 2},
		"c":               "x",
		"groupedByValues": []any{"x"},
	}, out[0])
}

func TestPropertyAggregatorTopLevelGrouping(t *testing.T) {
	in := []map[string]any{
		{"verb": "post", "actor": "u1", "object": "n1"},
		{"verb": "post", "actor": "u2", "object": "n2"},
	}
	p := &stream.PropertyAggregator{Properties: []string{"verb"}}

	out := p.Process(in, nil, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "post", out[0]["verb"])
	assert.Equal(t, []any{"u1", "u2"}, out[0]["actor"])
	assert.Equal(t, []any{"n1", "n2"}, out[0]["object"])
	assert.Equal(t, []any{"post"}, out[0]["groupedByValues"])
}

func TestPropertyAggregatorEmptyInput(t *testing.T) {
	p := &stream.PropertyAggregator{Properties: []string{"verb"}}
	out := p.Process(nil, nil, nil)
	assert.Empty(t, out)
}

func TestGetActivitiesWithAggregationPipeline(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2"} {
		_, err := backend.CreateActivity(ctx, simpleActivity(id, "post", "user1"))
		require.NoError(t, err)
	}
	_, err := backend.CreateActivity(ctx, simpleActivity("g3", "share", "user1"))
	require.NoError(t, err)

	got, err := backend.GetActivities(ctx, []string{"g1", "g2", "g3"}, stream.GetActivitiesOptions{
		AggregationPipeline: []stream.Aggregator{
			&stream.PropertyAggregator{Properties: []string{"verb"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []any{"post"}, got[0]["groupedByValues"])
	ids, ok := got[0]["id"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{"g1", "g2"}, ids)
	assert.Equal(t, "g3", got[1]["id"])
}
