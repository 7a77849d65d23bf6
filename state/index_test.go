package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvertedIndex(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Add("go", "doc3", "doc1")
	idx.Add("go", "doc2", "doc1")
	idx.Add("chord", "doc2")

	assert.Equal(t, 2, idx.Len())
	assert.Equal(t, []string{"chord", "go"}, idx.Terms())
	assert.Equal(t, []string{"doc1", "doc2", "doc3"}, idx.Docs("go"))
	assert.Nil(t, idx.Docs("missing"))

	assert.Equal(t, []string{"doc1", "doc3"}, idx.Intersect("go", []string{"doc3", "doc9", "doc1", "doc3"}))
	assert.Equal(t, []string{}, idx.Intersect("chord", []string{"doc1"}))
	assert.Nil(t, idx.Intersect("missing", []string{"doc1"}))
}

func TestInvertedIndexExtract(t *testing.T) {
	idx := NewInvertedIndex()
	idx.Merge(map[string][]string{
		"a": {"1"},
		"b": {"2", "1"},
		"c": {"3"},
	})
	moved := idx.Extract(func(term string) bool { return term == "b" })
	assert.Equal(t, map[string][]string{"a": {"1"}, "c": {"3"}}, moved)
	assert.Equal(t, map[string][]string{"b": {"1", "2"}}, idx.Snapshot())

	idx.Clear()
	assert.Zero(t, idx.Len())
}
