package protocol

import (
	"fmt"
	"net/netip"
)

type LsType uint8

const (
	LsPingReq LsType = iota
	LsPingRsp
	LsHelloReq
	LsHelloRsp
	LsAdvertisement
)

func (t LsType) String() string {
	switch t {
	case LsPingReq:
		return "PING_REQ"
	case LsPingRsp:
		return "PING_RSP"
	case LsHelloReq:
		return "HELLO_REQ"
	case LsHelloRsp:
		return "HELLO_RSP"
	case LsAdvertisement:
		return "LSA"
	}
	return fmt.Sprintf("LS(%d)", uint8(t))
}

// LsMessage is a link-state protocol message: type, sequence number, ttl and originator followed by a typed payload
type LsMessage struct {
	Seq        uint32
	TTL        uint8
	Originator netip.Addr
	Body       LsBody
}

// LsBody is one of PingReq, PingRsp, HelloReq, HelloRsp or Lsa
type LsBody interface {
	LsType() LsType
	encode(w *Writer)
}

type PingReq struct {
	Message string
}

type PingRsp struct {
	Message string
}

type HelloReq struct {
	Message string
}

type HelloRsp struct {
	Message string
}

type LinkCost struct {
	Addr netip.Addr
	Cost uint32
}

type Lsa struct {
	Neighbours []LinkCost
}

func (PingReq) LsType() LsType  { return LsPingReq }
func (PingRsp) LsType() LsType  { return LsPingRsp }
func (HelloReq) LsType() LsType { return LsHelloReq }
func (HelloRsp) LsType() LsType { return LsHelloRsp }
func (Lsa) LsType() LsType      { return LsAdvertisement }

func (m PingReq) encode(w *Writer)  { w.String(m.Message) }
func (m PingRsp) encode(w *Writer)  { w.String(m.Message) }
func (m HelloReq) encode(w *Writer) { w.String(m.Message) }
func (m HelloRsp) encode(w *Writer) { w.String(m.Message) }

func (m Lsa) encode(w *Writer) {
	w.Count(len(m.Neighbours))
	for _, n := range m.Neighbours {
		w.Addr(n.Addr)
		w.U32(n.Cost)
	}
}

func (LsMessage) Family() Family {
	return FamilyLinkState
}

func (m LsMessage) encode(w *Writer) {
	w.U8(uint8(m.Body.LsType()))
	w.U32(m.Seq)
	w.U8(m.TTL)
	w.Addr(m.Originator)
	m.Body.encode(w)
}

func decodeLs(r *Reader) (Message, error) {
	t := LsType(r.U8())
	m := LsMessage{
		Seq:        r.U32(),
		TTL:        r.U8(),
		Originator: r.Addr(),
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	switch t {
	case LsPingReq:
		m.Body = PingReq{Message: r.String()}
	case LsPingRsp:
		m.Body = PingRsp{Message: r.String()}
	case LsHelloReq:
		m.Body = HelloReq{Message: r.String()}
	case LsHelloRsp:
		m.Body = HelloRsp{Message: r.String()}
	case LsAdvertisement:
		n := int(r.U16())
		lsa := Lsa{Neighbours: make([]LinkCost, 0, min(n, 256))}
		for i := 0; i < n && r.Err() == nil; i++ {
			lsa.Neighbours = append(lsa.Neighbours, LinkCost{Addr: r.Addr(), Cost: r.U32()})
		}
		m.Body = lsa
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return m, r.Err()
}
