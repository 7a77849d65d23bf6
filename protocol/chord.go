package protocol

import (
	"fmt"

	"github.com/encodeous/overlay/state"
)

type ChordType uint8

const (
	ChordFindSucc ChordType = iota + 3
	ChordNewPred
	ChordNewSucc
	ChordReqJoin
	ChordRingState
	ChordStabilizeReq
	ChordStabilizeAnswer
	ChordLookupReq
	ChordLookupRsp
	ChordFingerReq
	ChordFingerAnswer
	ChordGetSuccessor
	ChordGetSuccessorRsp
)

var chordTypeNames = map[ChordType]string{
	ChordFindSucc:        "FIND_SUCC",
	ChordNewPred:         "NEW_PRED",
	ChordNewSucc:         "NEW_SUCC",
	ChordReqJoin:         "REQ_JOIN",
	ChordRingState:       "RING_STATE",
	ChordStabilizeReq:    "STABILIZE_REQUEST",
	ChordStabilizeAnswer: "STABILIZE_ANSWER",
	ChordLookupReq:       "LOOKUP_REQ",
	ChordLookupRsp:       "LOOKUP_RSP",
	ChordFingerReq:       "CALCULATE_FINGER_TABLE_REQ",
	ChordFingerAnswer:    "CALCULATE_FINGER_TABLE_ANSWER",
	ChordGetSuccessor:    "GET_SUCCESSOR",
	ChordGetSuccessorRsp: "GET_SUCCESSOR_RSP",
}

func (t ChordType) String() string {
	if s, ok := chordTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("CHORD(%d)", uint8(t))
}

// ChordMessage is a ring protocol message correlated by transaction id
type ChordMessage struct {
	Txn  uint32
	Body ChordBody
}

type ChordBody interface {
	ChordType() ChordType
	encode(w *Writer)
}

type FindSucc struct {
	Node state.NodeId
}

type NewPred struct {
	Node  state.NodeId
	Leave bool
}

type NewSucc struct {
	Node  state.NodeId
	Leave bool
}

type ReqJoin struct {
	Node state.NodeId
}

type RingStateMsg struct {
	Originator state.NodeId
}

type StabilizeReq struct{}

type StabilizeAnswer struct {
	Predecessor state.NodeId
}

type LookupReq struct {
	Key        string
	Originator state.NodeId
	Purpose    state.LookupPurpose
	Hops       uint16
}

type LookupRsp struct {
	Owner state.NodeId
	Key   string
	Hops  uint16
}

type FingerReq struct {
	Key        state.RingKey
	Originator state.NodeId
	Index      uint32
}

type FingerAnswer struct {
	Successor state.NodeId
	Key       state.RingKey
	Index     uint32
}

type GetSuccessor struct{}

type GetSuccessorRsp struct {
	Successor state.NodeId
}

func (FindSucc) ChordType() ChordType        { return ChordFindSucc }
func (NewPred) ChordType() ChordType         { return ChordNewPred }
func (NewSucc) ChordType() ChordType         { return ChordNewSucc }
func (ReqJoin) ChordType() ChordType         { return ChordReqJoin }
func (RingStateMsg) ChordType() ChordType    { return ChordRingState }
func (StabilizeReq) ChordType() ChordType    { return ChordStabilizeReq }
func (StabilizeAnswer) ChordType() ChordType { return ChordStabilizeAnswer }
func (LookupReq) ChordType() ChordType       { return ChordLookupReq }
func (LookupRsp) ChordType() ChordType       { return ChordLookupRsp }
func (FingerReq) ChordType() ChordType       { return ChordFingerReq }
func (FingerAnswer) ChordType() ChordType    { return ChordFingerAnswer }
func (GetSuccessor) ChordType() ChordType    { return ChordGetSuccessor }
func (GetSuccessorRsp) ChordType() ChordType { return ChordGetSuccessorRsp }

func (m FindSucc) encode(w *Writer) { w.String(string(m.Node)) }
func (m NewPred) encode(w *Writer) {
	w.String(string(m.Node))
	w.Bool(m.Leave)
}
func (m NewSucc) encode(w *Writer) {
	w.String(string(m.Node))
	w.Bool(m.Leave)
}
func (m ReqJoin) encode(w *Writer)         { w.String(string(m.Node)) }
func (m RingStateMsg) encode(w *Writer)    { w.String(string(m.Originator)) }
func (StabilizeReq) encode(*Writer)        {}
func (m StabilizeAnswer) encode(w *Writer) { w.String(string(m.Predecessor)) }
func (m LookupReq) encode(w *Writer) {
	w.String(m.Key)
	w.String(string(m.Originator))
	w.U8(uint8(m.Purpose))
	w.U16(m.Hops)
}
func (m LookupRsp) encode(w *Writer) {
	w.String(string(m.Owner))
	w.String(m.Key)
	w.U16(m.Hops)
}
func (m FingerReq) encode(w *Writer) {
	w.U32(uint32(m.Key))
	w.String(string(m.Originator))
	w.U32(m.Index)
}
func (m FingerAnswer) encode(w *Writer) {
	w.String(string(m.Successor))
	w.U32(uint32(m.Key))
	w.U32(m.Index)
}
func (GetSuccessor) encode(*Writer)        {}
func (m GetSuccessorRsp) encode(w *Writer) { w.String(string(m.Successor)) }

func (ChordMessage) Family() Family {
	return FamilyChord
}

func (m ChordMessage) encode(w *Writer) {
	w.U8(uint8(m.Body.ChordType()))
	w.U32(m.Txn)
	m.Body.encode(w)
}

func node(r *Reader) state.NodeId {
	return state.NodeId(r.String())
}

func decodeChord(r *Reader) (Message, error) {
	t := ChordType(r.U8())
	m := ChordMessage{Txn: r.U32()}
	if r.Err() != nil {
		return nil, r.Err()
	}
	switch t {
	case ChordFindSucc:
		m.Body = FindSucc{Node: node(r)}
	case ChordNewPred:
		m.Body = NewPred{Node: node(r), Leave: r.Bool()}
	case ChordNewSucc:
		m.Body = NewSucc{Node: node(r), Leave: r.Bool()}
	case ChordReqJoin:
		m.Body = ReqJoin{Node: node(r)}
	case ChordRingState:
		m.Body = RingStateMsg{Originator: node(r)}
	case ChordStabilizeReq:
		m.Body = StabilizeReq{}
	case ChordStabilizeAnswer:
		m.Body = StabilizeAnswer{Predecessor: node(r)}
	case ChordLookupReq:
		m.Body = LookupReq{Key: r.String(), Originator: node(r), Purpose: state.LookupPurpose(r.U8()), Hops: r.U16()}
	case ChordLookupRsp:
		m.Body = LookupRsp{Owner: node(r), Key: r.String(), Hops: r.U16()}
	case ChordFingerReq:
		m.Body = FingerReq{Key: state.RingKey(r.U32()), Originator: node(r), Index: r.U32()}
	case ChordFingerAnswer:
		m.Body = FingerAnswer{Successor: node(r), Key: state.RingKey(r.U32()), Index: r.U32()}
	case ChordGetSuccessor:
		m.Body = GetSuccessor{}
	case ChordGetSuccessorRsp:
		m.Body = GetSuccessorRsp{Successor: node(r)}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return m, r.Err()
}
