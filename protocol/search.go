package protocol

import (
	"fmt"

	"github.com/encodeous/overlay/state"
)

type SearchType uint8

const (
	SearchReqLookupType SearchType = iota + 3
	SearchLookupRspType
	SearchReqType
	SearchRspType
	PublishReqType
	InvertedListType
	KeyTransferRejoinType
)

func (t SearchType) String() string {
	switch t {
	case SearchReqLookupType:
		return "SEARCH_REQ_LOOKUP"
	case SearchLookupRspType:
		return "SEARCH_LOOKUP_RSP"
	case SearchReqType:
		return "SEARCH_REQ"
	case SearchRspType:
		return "SEARCH_RSP"
	case PublishReqType:
		return "PUBLISH_REQ"
	case InvertedListType:
		return "INVERTED_LIST"
	case KeyTransferRejoinType:
		return "KEY_TRANSFER_REJOIN"
	}
	return fmt.Sprintf("SEARCH(%d)", uint8(t))
}

// SearchMessage is an inverted index overlay message correlated by transaction id
type SearchMessage struct {
	Txn  uint32
	Body SearchBody
}

type SearchBody interface {
	SearchType() SearchType
	encode(w *Writer)
}

// SearchReqLookup asks the executing node to start a search on behalf of Requester
type SearchReqLookup struct {
	Requester state.NodeId
	Terms     []string
}

// SearchLookupRsp returns a lookup resolution to the node that issued it
type SearchLookupRsp struct {
	Owner   state.NodeId
	Key     string
	Purpose state.LookupPurpose
}

// SearchReq asks the owner of Query[Index] to intersect its posting list with Docs
type SearchReq struct {
	Requester state.NodeId
	Query     []string
	Docs      []string
	Index     uint32
}

type SearchRsp struct {
	Query []string
	Docs  []string
}

type PublishReq struct {
	Term string
	Docs []string
}

type InvertedList struct {
	Entries map[string][]string
}

type KeyTransferRejoin struct {
	Node state.NodeId
}

func (SearchReqLookup) SearchType() SearchType   { return SearchReqLookupType }
func (SearchLookupRsp) SearchType() SearchType   { return SearchLookupRspType }
func (SearchReq) SearchType() SearchType         { return SearchReqType }
func (SearchRsp) SearchType() SearchType         { return SearchRspType }
func (PublishReq) SearchType() SearchType        { return PublishReqType }
func (InvertedList) SearchType() SearchType      { return InvertedListType }
func (KeyTransferRejoin) SearchType() SearchType { return KeyTransferRejoinType }

func (m SearchReqLookup) encode(w *Writer) {
	w.String(string(m.Requester))
	w.Strings(m.Terms)
}
func (m SearchLookupRsp) encode(w *Writer) {
	w.String(string(m.Owner))
	w.String(m.Key)
	w.U8(uint8(m.Purpose))
}
func (m SearchReq) encode(w *Writer) {
	w.String(string(m.Requester))
	w.Strings(m.Query)
	w.Strings(m.Docs)
	w.U32(m.Index)
}
func (m SearchRsp) encode(w *Writer) {
	w.Strings(m.Query)
	w.Strings(m.Docs)
}
func (m PublishReq) encode(w *Writer) {
	w.String(m.Term)
	w.Strings(m.Docs)
}
func (m InvertedList) encode(w *Writer)      { writeIndex(w, m.Entries) }
func (m KeyTransferRejoin) encode(w *Writer) { w.String(string(m.Node)) }

func (SearchMessage) Family() Family {
	return FamilySearch
}

func (m SearchMessage) encode(w *Writer) {
	w.U8(uint8(m.Body.SearchType()))
	w.U32(m.Txn)
	m.Body.encode(w)
}

func decodeSearch(r *Reader) (Message, error) {
	t := SearchType(r.U8())
	m := SearchMessage{Txn: r.U32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	switch t {
	case SearchReqLookupType:
		m.Body = SearchReqLookup{Requester: node(r), Terms: r.Strings()}
	case SearchLookupRspType:
		m.Body = SearchLookupRsp{Owner: node(r), Key: r.String(), Purpose: state.LookupPurpose(r.U8())}
	case SearchReqType:
		m.Body = SearchReq{Requester: node(r), Query: r.Strings(), Docs: r.Strings(), Index: r.U32()}
	case SearchRspType:
		m.Body = SearchRsp{Query: r.Strings(), Docs: r.Strings()}
	case PublishReqType:
		m.Body = PublishReq{Term: r.String(), Docs: r.Strings()}
	case InvertedListType:
		m.Body = InvertedList{Entries: readIndex(r)}
	case KeyTransferRejoinType:
		m.Body = KeyTransferRejoin{Node: node(r)}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return m, r.Err()
}
