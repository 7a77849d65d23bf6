package state

import (
	"fmt"
	"time"
)

type LookupPurpose uint8

const (
	PurposeSearch LookupPurpose = iota + 1
	PurposePublish
	// PurposeProbe resolves a key for diagnostics only
	PurposeProbe
)

func (p LookupPurpose) String() string {
	switch p {
	case PurposeSearch:
		return "search"
	case PurposePublish:
		return "publish"
	case PurposeProbe:
		return "probe"
	}
	return fmt.Sprintf("purpose(%d)", uint8(p))
}

// LookupTransaction is an outstanding key resolution started by this node. Once the owner of Key is
// known, the transaction continues as a publish or as the next step of a search.
type LookupTransaction struct {
	Txn     uint32
	Key     string
	Purpose LookupPurpose

	// Docs are the documents to publish, or the intermediate result of a search
	Docs []string

	Requester NodeId
	Query     []string
	Index     uint32

	Started time.Time
}

type SearchState struct {
	Index   *InvertedIndex
	Pending map[uint32]*LookupTransaction
}

func NewSearchState() *SearchState {
	return &SearchState{
		Index:   NewInvertedIndex(),
		Pending: make(map[uint32]*LookupTransaction),
	}
}

// Track records job as pending under its txn
func (s *SearchState) Track(job *LookupTransaction) {
	job.Started = time.Now()
	s.Pending[job.Txn] = job
}
