package protocol

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/encodeous/overlay/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	b, err := Marshal(m)
	require.NoError(t, err)
	out, err := Unmarshal(b)
	require.NoError(t, err)
	return out
}

func TestLsHeaderLayout(t *testing.T) {
	m := LsMessage{
		Seq:        0x01020304,
		TTL:        16,
		Originator: netip.MustParseAddr("10.0.0.7"),
		Body:       HelloReq{Message: "ab"},
	}
	b, err := Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		byte(FamilyLinkState),
		byte(LsHelloReq),
		1, 2, 3, 4, // seq
		16,          // ttl
		10, 0, 0, 7, // originator
		0, 2, 'a', 'b', // u16 length prefixed string
	}, b)
}

func TestLsaRoundTrip(t *testing.T) {
	m := LsMessage{
		Seq:        9,
		TTL:        3,
		Originator: netip.MustParseAddr("10.0.0.1"),
		Body: Lsa{Neighbours: []LinkCost{
			{Addr: netip.MustParseAddr("10.0.0.2"), Cost: 1},
			{Addr: netip.MustParseAddr("10.0.0.3"), Cost: 1},
		}},
	}
	assert.Equal(t, m, roundTrip(t, m))
}

func TestChordRoundTrip(t *testing.T) {
	msgs := []ChordMessage{
		{Txn: 1, Body: NewPred{Node: "b", Leave: true}},
		{Txn: 2, Body: LookupReq{Key: "term", Originator: "a", Purpose: state.PurposePublish, Hops: 4}},
		{Txn: 3, Body: FingerReq{Key: 0xfffffff0, Originator: "c", Index: 31}},
		{Txn: 4, Body: StabilizeReq{}},
		{Txn: 5, Body: StabilizeAnswer{Predecessor: ""}},
	}
	for _, m := range msgs {
		t.Run(m.Body.ChordType().String(), func(t *testing.T) {
			assert.Equal(t, Message(m), roundTrip(t, m))
		})
	}
}

func TestSearchRoundTrip(t *testing.T) {
	msgs := []SearchMessage{
		{Txn: 7, Body: SearchReq{Requester: "a", Query: []string{"x", "y"}, Docs: []string{"d1"}, Index: 1}},
		{Txn: 8, Body: InvertedList{Entries: map[string][]string{"x": {"d1", "d2"}, "y": {}}}},
		{Txn: 9, Body: SearchRsp{Query: []string{"x"}, Docs: []string{}}},
	}
	for _, m := range msgs {
		t.Run(m.Body.SearchType().String(), func(t *testing.T) {
			assert.Equal(t, Message(m), roundTrip(t, m))
		})
	}
}

func TestRelayCarriesInnerFrame(t *testing.T) {
	inner, err := Marshal(ChordMessage{Txn: 1, Body: GetSuccessor{}})
	require.NoError(t, err)
	out := roundTrip(t, Relay{
		Src:     netip.MustParseAddr("10.0.0.1"),
		Dst:     netip.MustParseAddr("10.0.0.9"),
		TTL:     5,
		Payload: inner,
	}).(Relay)
	msg, err := Unmarshal(out.Payload)
	require.NoError(t, err)
	assert.Equal(t, ChordMessage{Txn: 1, Body: GetSuccessor{}}, msg)
}

func TestTruncatedFrames(t *testing.T) {
	b, err := Marshal(ChordMessage{Txn: 1, Body: LookupReq{Key: "term", Originator: "a", Purpose: state.PurposeSearch}})
	require.NoError(t, err)
	for i := 0; i < len(b); i++ {
		_, err := Unmarshal(b[:i])
		assert.Truef(t, errors.Is(err, ErrTruncated), "prefix of %d bytes: %v", i, err)
	}
}

func TestUnknownTypes(t *testing.T) {
	_, err := Unmarshal([]byte{byte(FamilyChord), 200, 0, 0, 0, 1})
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Unmarshal([]byte{42})
	assert.ErrorIs(t, err, ErrUnknownFamily)
}
