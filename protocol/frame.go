package protocol

import (
	"fmt"
	"net/netip"
)

type Family uint8

const (
	FamilyLinkState Family = iota + 1
	FamilyChord
	FamilySearch
	FamilyRelay
)

func (f Family) String() string {
	switch f {
	case FamilyLinkState:
		return "LS"
	case FamilyChord:
		return "CHORD"
	case FamilySearch:
		return "SEARCH"
	case FamilyRelay:
		return "RELAY"
	}
	return fmt.Sprintf("FAMILY(%d)", uint8(f))
}

// Message is a top level frame. Implementations are LsMessage, ChordMessage, SearchMessage and Relay.
type Message interface {
	Family() Family
	encode(w *Writer)
}

// Marshal encodes a message prefixed with its family byte
func Marshal(m Message) ([]byte, error) {
	w := &Writer{}
	w.U8(uint8(m.Family()))
	m.encode(w)
	return w.Bytes()
}

// Unmarshal decodes a frame produced by Marshal
func Unmarshal(b []byte) (Message, error) {
	r := NewReader(b)
	fam := Family(r.U8())
	if r.Err() != nil {
		return nil, r.Err()
	}
	var (
		m   Message
		err error
	)
	switch fam {
	case FamilyLinkState:
		m, err = decodeLs(r)
	case FamilyChord:
		m, err = decodeChord(r)
	case FamilySearch:
		m, err = decodeSearch(r)
	case FamilyRelay:
		m, err = decodeRelay(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFamily, uint8(fam))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", fam, err)
	}
	return m, nil
}

// Relay carries a frame across intermediate nodes towards Dst
type Relay struct {
	Src     netip.Addr
	Dst     netip.Addr
	TTL     uint8
	Payload []byte
}

func (Relay) Family() Family {
	return FamilyRelay
}

func (m Relay) encode(w *Writer) {
	w.Addr(m.Src)
	w.Addr(m.Dst)
	w.U8(m.TTL)
	w.Raw(m.Payload)
}

func decodeRelay(r *Reader) (Message, error) {
	m := Relay{
		Src: r.Addr(),
		Dst: r.Addr(),
		TTL: r.U8(),
	}
	m.Payload = r.Rest()
	return m, r.Err()
}
