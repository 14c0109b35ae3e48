package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	ref, err := ParseRef("users/u1/contentVectors/abc")
	require.NoError(t, err)
	assert.Equal(t, "users/u1/contentVectors", ref.Collection)
	assert.Equal(t, "abc", ref.ID)
	assert.Equal(t, "users/u1/contentVectors/abc", ref.Path())

	for _, bad := range []string{"", "abc", "users/"} {
		_, err := ParseRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidateField(t *testing.T) {
	assert.NoError(t, ValidateField("contentId"))
	assert.NoError(t, ValidateField("metadata.createdAt"))
	for _, bad := range []string{"", "a..b", "x'; DROP TABLE documents; --", "1abc", "a.b."} {
		assert.True(t, errors.Is(ValidateField(bad), ErrInvalidField), bad)
	}
}

func TestMatches(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]interface{}{
		"contentId": "c1",
		"metadata": map[string]interface{}{
			"createdAt":   FormatTime(now),
			"performance": 0.2,
			"version":     3,
		},
	}

	tests := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{"equal string", []Filter{{"contentId", OpEqual, "c1"}}, true},
		{"not equal string", []Filter{{"contentId", OpEqual, "c2"}}, false},
		{"time stored as string", []Filter{{"metadata.createdAt", OpLess, now.Add(time.Second)}}, true},
		{"time boundary inclusive", []Filter{{"metadata.createdAt", OpGreaterOrEqual, now}}, true},
		{"time boundary exclusive", []Filter{{"metadata.createdAt", OpGreater, now}}, false},
		{"mixed numeric kinds", []Filter{{"metadata.version", OpEqual, 3.0}}, true},
		{"both predicates", []Filter{{"metadata.createdAt", OpLess, now.Add(time.Hour)}, {"metadata.performance", OpLess, 0.3}}, true},
		{"missing field", []Filter{{"metadata.missing", OpLess, 1}}, false},
		{"incomparable kinds", []Filter{{"contentId", OpLess, 5}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(data, tt.filters))
		})
	}
}

func TestChunk(t *testing.T) {
	refs := make([]Ref, 1203)
	chunks := Chunk(refs, 500)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 203)
	assert.Nil(t, Chunk(nil, 500))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore().WithMaxBatchSize(2)

	ref, err := s.Add(ctx, "users/u1/contentVectors", map[string]interface{}{
		"contentId": "c1",
		"embedding": []float32{1, 2},
	})
	require.NoError(t, err)
	_, err = s.Add(ctx, "users/u1/contentVectors", map[string]interface{}{"contentId": "c2"})
	require.NoError(t, err)
	_, err = s.Add(ctx, "users/u2/contentVectors", map[string]interface{}{"contentId": "c3"})
	require.NoError(t, err)

	doc, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "c1", doc.Data["contentId"])

	// returned data is a copy
	doc.Data["embedding"].([]float32)[0] = 99
	again, _ := s.Get(ctx, ref)
	assert.Equal(t, float32(1), again.Data["embedding"].([]float32)[0])

	docs, err := s.Query(ctx, "users/u1/contentVectors", Query{}.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, ref, docs[0].Ref)

	n, err := s.Count(ctx, "users/u1/contentVectors", Query{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = s.Count(ctx, "users/u1/contentVectors", Query{}.Where("contentId", OpEqual, "c2"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, "users/none/contentVectors", Query{})
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.Update(ctx, ref, map[string]interface{}{"textContent": "hello"}))
	doc, _ = s.Get(ctx, ref)
	assert.Equal(t, "hello", doc.Data["textContent"])
	assert.Equal(t, "c1", doc.Data["contentId"])

	err = s.Update(ctx, Ref{Collection: "users/u1/contentVectors", ID: "nope"}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	names, err := s.ListCollections(ctx, "/contentVectors")
	require.NoError(t, err)
	assert.Equal(t, []string{"users/u1/contentVectors", "users/u2/contentVectors"}, names)

	err = s.BatchDelete(ctx, []Ref{ref, ref, ref})
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	require.NoError(t, s.BatchDelete(ctx, []Ref{ref}))
	_, err = s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}
