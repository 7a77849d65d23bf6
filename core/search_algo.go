package core

import (
	"slices"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

// Overlay defines the side effects of the inverted index overlay
type Overlay interface {
	NextTxn() uint32
	// Lookup starts a ring lookup for key, originated by this node
	Lookup(key string, txn uint32, purpose state.LookupPurpose)
	SendSearch(to state.NodeId, txn uint32, body protocol.SearchBody)
	// Deliver hands the final result of a search back to the operator
	Deliver(query, docs []string)
	Log(event Event, desc string, args ...any)
}

// Publish issues one lookup per term. The documents are sent once the owner of the term is known.
func Publish(ss *state.SearchState, o Overlay, entries map[string][]string) {
	terms := make([]string, 0, len(entries))
	for term := range entries {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	for _, term := range terms {
		txn := o.NextTxn()
		ss.Track(&state.LookupTransaction{
			Txn:     txn,
			Key:     term,
			Purpose: state.PurposePublish,
			Docs:    slices.Clone(entries[term]),
		})
		o.Lookup(term, txn, state.PurposePublish)
	}
}

// StartSearch runs a conjunctive query. The lookups are driven by exec on behalf of self.
func StartSearch(ss *state.SearchState, o Overlay, self, exec state.NodeId, terms []string) {
	if len(terms) == 0 {
		return
	}
	if exec != self {
		o.SendSearch(exec, o.NextTxn(), protocol.SearchReqLookup{Requester: self, Terms: terms})
		return
	}
	beginSearch(ss, o, self, terms)
}

func beginSearch(ss *state.SearchState, o Overlay, requester state.NodeId, terms []string) {
	txn := o.NextTxn()
	ss.Track(&state.LookupTransaction{
		Txn:       txn,
		Key:       terms[0],
		Purpose:   state.PurposeSearch,
		Requester: requester,
		Query:     slices.Clone(terms),
	})
	o.Lookup(terms[0], txn, state.PurposeSearch)
}

func HandleSearchReqLookup(ss *state.SearchState, o Overlay, req protocol.SearchReqLookup) {
	if len(req.Terms) == 0 {
		o.SendSearch(req.Requester, o.NextTxn(), protocol.SearchRsp{Query: req.Terms, Docs: []string{}})
		return
	}
	beginSearch(ss, o, req.Requester, req.Terms)
}

// LookupResolved continues a publish or search once the owner of its key is known. A resolution
// found on behalf of another node is bounced back to that node first.
func LookupResolved(ss *state.SearchState, o Overlay, self, owner state.NodeId, txn uint32, req protocol.LookupReq) {
	if req.Originator != self {
		o.SendSearch(req.Originator, txn, protocol.SearchLookupRsp{Owner: owner, Key: req.Key, Purpose: req.Purpose})
		return
	}
	continueLookup(ss, o, owner, txn)
}

func HandleSearchLookupRsp(ss *state.SearchState, o Overlay, txn uint32, rsp protocol.SearchLookupRsp) {
	continueLookup(ss, o, rsp.Owner, txn)
}

func continueLookup(ss *state.SearchState, o Overlay, owner state.NodeId, txn uint32) {
	job, ok := ss.Pending[txn]
	if !ok {
		o.Log(UnknownTransaction, "lookup resolution for unknown transaction", "txn", txn, "owner", owner)
		return
	}
	delete(ss.Pending, txn)
	switch job.Purpose {
	case state.PurposePublish:
		o.SendSearch(owner, txn, protocol.PublishReq{Term: job.Key, Docs: job.Docs})
	case state.PurposeSearch:
		docs := job.Docs
		if docs == nil {
			docs = []string{}
		}
		o.SendSearch(owner, txn, protocol.SearchReq{
			Requester: job.Requester,
			Query:     job.Query,
			Docs:      docs,
			Index:     job.Index,
		})
	}
}

// ExpirePending drops lookups that have not been resolved within LookupTimeout. A lookup is lost when
// a node on its path has left the ring or is not part of one.
func ExpirePending(ss *state.SearchState, o Overlay, now time.Time) {
	for txn, job := range ss.Pending {
		if now.Sub(job.Started) <= state.LookupTimeout {
			continue
		}
		delete(ss.Pending, txn)
		o.Log(LookupAbandoned, "abandoned unresolved lookup", "txn", txn, "key", job.Key, "purpose", job.Purpose, "requester", job.Requester)
	}
}

func HandlePublish(ss *state.SearchState, o Overlay, req protocol.PublishReq) {
	ss.Index.Add(req.Term, req.Docs...)
	o.Log(Published, "stored posting list", "term", req.Term, "docs", len(req.Docs))
}

// HandleSearchRequest intersects the local posting list of the current query term with the documents
// accumulated so far. The chain continues with a lookup for the next term, or the result is returned.
func HandleSearchRequest(ss *state.SearchState, o Overlay, txn uint32, req protocol.SearchReq) {
	if int(req.Index) >= len(req.Query) {
		o.Log(MalformedMessage, "search request index out of range", "index", req.Index, "terms", len(req.Query))
		return
	}
	term := req.Query[req.Index]
	var result []string
	if req.Index == 0 {
		result = ss.Index.Docs(term)
	} else {
		result = ss.Index.Intersect(term, req.Docs)
	}
	if len(result) == 0 {
		o.SendSearch(req.Requester, txn, protocol.SearchRsp{Query: req.Query, Docs: []string{}})
		return
	}
	next := req.Index + 1
	if int(next) < len(req.Query) {
		ntxn := o.NextTxn()
		ss.Track(&state.LookupTransaction{
			Txn:       ntxn,
			Key:       req.Query[next],
			Purpose:   state.PurposeSearch,
			Docs:      result,
			Requester: req.Requester,
			Query:     req.Query,
			Index:     next,
		})
		o.Lookup(req.Query[next], ntxn, state.PurposeSearch)
		return
	}
	o.SendSearch(req.Requester, txn, protocol.SearchRsp{Query: req.Query, Docs: result})
}

func HandleSearchResponse(o Overlay, rsp protocol.SearchRsp) {
	o.Deliver(rsp.Query, rsp.Docs)
}

func HandleInvertedList(ss *state.SearchState, o Overlay, list protocol.InvertedList) {
	ss.Index.Merge(list.Entries)
	o.Log(IndexMerged, "merged transferred keys", "terms", len(list.Entries))
}

// HandoffOnLeave ships the whole index to the successor before this node leaves the ring
func HandoffOnLeave(ss *state.SearchState, o Overlay, self, successor state.NodeId) {
	if ss.Index.Len() == 0 {
		return
	}
	if successor == state.Unbound || successor == self {
		o.Log(KeysLost, "no successor to hand keys to", "terms", ss.Index.Len())
		ss.Index.Clear()
		return
	}
	o.SendSearch(successor, o.NextTxn(), protocol.InvertedList{Entries: ss.Index.Snapshot()})
	ss.Index.Clear()
}

// HandoffOnRejoin moves keys to a newly placed node. The scan runs on the node's successor, which
// held every key the new node now owns.
func HandoffOnRejoin(ss *state.SearchState, o Overlay, self, node, successor state.NodeId) {
	if successor == self {
		TransferKeys(ss, o, self, node)
		return
	}
	o.SendSearch(successor, o.NextTxn(), protocol.KeyTransferRejoin{Node: node})
}

// TransferKeys ships every entry outside (node, self] to node and removes it locally
func TransferKeys(ss *state.SearchState, o Overlay, self, node state.NodeId) {
	if node == self {
		return
	}
	lo, hi := node.Key(), self.Key()
	moved := ss.Index.Extract(func(term string) bool {
		return state.InInterval(state.HashKey(term), lo, hi)
	})
	if len(moved) == 0 {
		return
	}
	o.Log(KeysTransferred, "handing keys to new node", "node", node, "terms", len(moved))
	o.SendSearch(node, o.NextTxn(), protocol.InvertedList{Entries: moved})
}

// HandleSearch dispatches an inbound overlay message
func HandleSearch(ss *state.SearchState, o Overlay, self state.NodeId, m protocol.SearchMessage) {
	switch body := m.Body.(type) {
	case protocol.SearchReqLookup:
		HandleSearchReqLookup(ss, o, body)
	case protocol.SearchLookupRsp:
		HandleSearchLookupRsp(ss, o, m.Txn, body)
	case protocol.SearchReq:
		HandleSearchRequest(ss, o, m.Txn, body)
	case protocol.SearchRsp:
		HandleSearchResponse(o, body)
	case protocol.PublishReq:
		HandlePublish(ss, o, body)
	case protocol.InvertedList:
		HandleInvertedList(ss, o, body)
	case protocol.KeyTransferRejoin:
		TransferKeys(ss, o, self, body.Node)
	}
}
