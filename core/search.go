package core

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/encodeous/overlay/protocol"
	"github.com/encodeous/overlay/state"
)

// Search is the inverted index overlay. Terms are stored on the ring node that owns hash(term).
type Search struct {
	*state.State
}

func (x *Search) Init(s *state.State) error {
	x.State = s
	s.SearchState = state.NewSearchState()
	s.RepeatTask(func(s *state.State) error {
		ExpirePending(s.SearchState, x, time.Now())
		return nil
	}, state.LookupTimeout/2)
	return nil
}

func (x *Search) Cleanup(s *state.State) error {
	if n := len(s.SearchState.Pending); n > 0 {
		s.Log.Debug("abandoning pending lookups", "count", n)
	}
	return nil
}

func (x *Search) Lookup(key string, txn uint32, purpose state.LookupPurpose) {
	Get[*Chord](x.State).StartLookup(key, txn, purpose)
}

func (x *Search) SendSearch(to state.NodeId, txn uint32, body protocol.SearchBody) {
	Get[*Node](x.State).Send(to, protocol.SearchMessage{Txn: txn, Body: body})
}

func (x *Search) Deliver(query, docs []string) {
	if len(docs) == 0 {
		x.Log(SearchResult, "no result", "query", strings.Join(query, " "))
	} else {
		x.Log(SearchResult, "found documents", "query", strings.Join(query, " "), "docs", strings.Join(docs, " "))
	}
	Get[*Trace](x.State).Emit(SearchResultEvent{Node: x.Id, Query: query, Docs: docs})
}

func (x *Search) Log(event Event, desc string, args ...any) {
	logEvent(x.Env.Log, event, desc, args...)
}

func (x *Search) LookupResolved(owner state.NodeId, txn uint32, req protocol.LookupReq) {
	LookupResolved(x.SearchState, x, x.Id, owner, txn, req)
}

func (x *Search) Rejoined(node, successor state.NodeId) {
	HandoffOnRejoin(x.SearchState, x, x.Id, node, successor)
}

func (x *Search) Leaving(successor state.NodeId) {
	HandoffOnLeave(x.SearchState, x, x.Id, successor)
}

// Publish stores every term of entries on its owner
func (x *Search) Publish(entries map[string][]string) error {
	if !x.RingState.Joined() {
		return fmt.Errorf("cannot publish, %s is not part of a ring", x.Id)
	}
	Publish(x.SearchState, x, entries)
	return nil
}

// Search runs a conjunctive query for terms, driven by exec
func (x *Search) Search(exec state.NodeId, terms []string) error {
	if len(terms) == 0 {
		return fmt.Errorf("search needs at least one term")
	}
	if exec == x.Id && !x.RingState.Joined() {
		return fmt.Errorf("cannot search, %s is not part of a ring", x.Id)
	}
	StartSearch(x.SearchState, x, x.Id, exec, terms)
	return nil
}

// Handle processes an inbound overlay message sent by from
func (x *Search) Handle(from state.NodeId, m protocol.SearchMessage) {
	HandleSearch(x.SearchState, x, x.Id, m)
}

// ParseMetadata reads a publish file. Every line names a document followed by its terms, blank lines
// and lines starting with # are skipped. The result maps each term to its documents.
func ParseMetadata(r io.Reader) (map[string][]string, error) {
	entries := make(map[string][]string)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: document %q has no terms", line, fields[0])
		}
		doc := fields[0]
		for _, term := range fields[1:] {
			entries[term] = append(entries[term], doc)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DumpIndex renders the local shard of the inverted index
func DumpIndex(ss *state.SearchState) string {
	sb := strings.Builder{}
	sb.WriteString(fmt.Sprintf("inverted index (%d terms, %d pending lookups):\n", ss.Index.Len(), len(ss.Pending)))
	for _, term := range ss.Index.Terms() {
		sb.WriteString(fmt.Sprintf("  %s (%d): %s\n", term, state.HashKey(term), strings.Join(ss.Index.Docs(term), " ")))
	}
	return sb.String()
}
