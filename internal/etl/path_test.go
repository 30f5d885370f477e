package etl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdjira/internal/etl"
)

func nestedRecord() etl.Record {
	return etl.NewRecord(map[string]any{
		"id": "10001",
		"fields": map[string]any{
			"updated": "2024-02-23T15:05:39.155+1100",
			"details": map[string]any{
				"metadata": map[string]any{"created_by": "user1"},
			},
			"labels": []any{"a", "b"},
			"status": nil,
		},
		"changelog": map[string]any{
			"histories": []any{
				map[string]any{"id": "h1"},
				map[string]any{"id": "h2"},
			},
		},
	})
}

func TestLookup_ResolvesValues(t *testing.T) {
	rec := nestedRecord()

	tests := []struct {
		path string
		want any
	}{
		{"id", "10001"},
		{"fields.updated", "2024-02-23T15:05:39.155+1100"},
		{"fields.details.metadata.created_by", "user1"},
		{"fields.labels.1", "b"},
		{"changelog.histories.0.id", "h1"},
		{"fields.status", nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := etl.Lookup(rec, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLookup_ReturnsNestedStructure(t *testing.T) {
	got, err := etl.Lookup(nestedRecord().Data, "fields.details")
	require.NoError(t, err)
	assert.Equal(t, etl.KindMapping, etl.KindOf(got))
	assert.Equal(t, map[string]any{"metadata": map[string]any{"created_by": "user1"}}, got)
}

func TestLookup_MissingPath(t *testing.T) {
	rec := nestedRecord()

	for _, path := range []string{
		"nope",
		"fields.nope",
		"fields.labels.2",
		"fields.labels.-1",
		"fields.labels.first",
		"fields.updated.value",
		"fields.status.name",
	} {
		t.Run(path, func(t *testing.T) {
			got, err := etl.Lookup(rec, path)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, etl.ErrMissingPath)

			var pe *etl.PathError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, path, pe.Path)
			assert.Contains(t, pe.Record, `"id":"10001"`)
		})
	}
}

func TestLookup_InvalidPath(t *testing.T) {
	for _, path := range []string{"", ".", "fields..updated", "fields."} {
		_, err := etl.Lookup(nestedRecord(), path)
		assert.ErrorIs(t, err, etl.ErrInvalidPath, "path %q", path)

		var pe *etl.PathError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, path, pe.Path)
		assert.Contains(t, pe.Record, `"id":"10001"`, "path %q", path)
	}
}

func TestSplitPath(t *testing.T) {
	segs, err := etl.SplitPath("changelog.histories.0.id")
	require.NoError(t, err)
	assert.Equal(t, []string{"changelog", "histories", "0", "id"}, segs)

	_, err = etl.SplitPath("fields..updated")
	assert.ErrorIs(t, err, etl.ErrInvalidPath)
}

func TestLookup_Deterministic(t *testing.T) {
	rec := nestedRecord()
	first, err1 := etl.Lookup(rec, "fields.labels.9")
	second, err2 := etl.Lookup(rec, "fields.labels.9")
	assert.Equal(t, first, second)
	assert.Equal(t, err1.Error(), err2.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, etl.KindNull, etl.KindOf(nil))
	assert.Equal(t, etl.KindMapping, etl.KindOf(map[string]any{}))
	assert.Equal(t, etl.KindSequence, etl.KindOf([]any{}))
	assert.Equal(t, etl.KindScalar, etl.KindOf("x"))
	assert.Equal(t, etl.KindScalar, etl.KindOf(float64(3)))
	assert.Equal(t, etl.KindScalar, etl.KindOf(true))
	assert.Equal(t, "sequence", etl.KindSequence.String())
}
