package state

import (
	"maps"
	"slices"

	"github.com/emirpasic/gods/sets/treeset"
)

// InvertedIndex maps terms to the ordered set of documents containing them.
// Each node holds the shard of terms whose keys fall in its ownership interval.
type InvertedIndex struct {
	terms map[string]*treeset.Set
}

func NewInvertedIndex() *InvertedIndex {
	return &InvertedIndex{terms: make(map[string]*treeset.Set)}
}

func (idx *InvertedIndex) Add(term string, docs ...string) {
	set, ok := idx.terms[term]
	if !ok {
		set = treeset.NewWithStringComparator()
		idx.terms[term] = set
	}
	for _, d := range docs {
		set.Add(d)
	}
}

// Docs returns the sorted posting list of a term
func (idx *InvertedIndex) Docs(term string) []string {
	set, ok := idx.terms[term]
	if !ok {
		return nil
	}
	return toStrings(set.Values())
}

// Intersect returns the documents of term that also appear in docs, in sorted order
func (idx *InvertedIndex) Intersect(term string, docs []string) []string {
	set, ok := idx.terms[term]
	if !ok {
		return nil
	}
	out := make([]string, 0)
	for _, d := range docs {
		if set.Contains(d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (idx *InvertedIndex) Terms() []string {
	return slices.Sorted(maps.Keys(idx.terms))
}

func (idx *InvertedIndex) Len() int {
	return len(idx.terms)
}

// Snapshot copies the whole index into plain posting lists
func (idx *InvertedIndex) Snapshot() map[string][]string {
	out := make(map[string][]string, len(idx.terms))
	for term, set := range idx.terms {
		out[term] = toStrings(set.Values())
	}
	return out
}

// Merge adds every posting list of entries to the index
func (idx *InvertedIndex) Merge(entries map[string][]string) {
	for term, docs := range entries {
		idx.Add(term, docs...)
	}
}

// Extract removes and returns every term for which keep returns false
func (idx *InvertedIndex) Extract(keep func(term string) bool) map[string][]string {
	out := make(map[string][]string)
	for term, set := range idx.terms {
		if keep(term) {
			continue
		}
		out[term] = toStrings(set.Values())
		delete(idx.terms, term)
	}
	return out
}

func (idx *InvertedIndex) Clear() {
	clear(idx.terms)
}

func toStrings(vals []interface{}) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		out = append(out, v.(string))
	}
	return out
}
