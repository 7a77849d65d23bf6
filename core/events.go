package core

import (
	"context"
	"fmt"
	"log/slog"
)

type Event int

// trace events

const (
	NeighbourAdded Event = iota
	NeighbourExpired
	LsaAccepted
	LsaStale
	RecordExpired
	RoutesComputed
	JoinedRing
	PredecessorChanged
	SuccessorChanged
	FingerUpdated
	LookupForwarded
	LookupCompleted
	KeysTransferred
	IndexMerged
	Published
)

// report events, printed for the operator

const (
	RingStateReport Event = iota + 500
	SearchResult
	PingReply
	LookupReport
	SuccessorReport
)

// warn events

const (
	MalformedMessage Event = iota + 1000
	UnknownSender
	UnknownTransaction
	NotJoined
	PredecessorRejected
	DestinationUnreachable
	PingTimedOut
	TtlExpired
	KeysLost
	LookupAbandoned
)

var eventNames = map[Event]string{
	NeighbourAdded:         "NEIGHBOUR_ADDED",
	NeighbourExpired:       "NEIGHBOUR_EXPIRED",
	LsaAccepted:            "LSA_ACCEPTED",
	LsaStale:               "LSA_STALE",
	RecordExpired:          "RECORD_EXPIRED",
	RoutesComputed:         "ROUTES_COMPUTED",
	JoinedRing:             "JOINED_RING",
	PredecessorChanged:     "PREDECESSOR_CHANGED",
	SuccessorChanged:       "SUCCESSOR_CHANGED",
	FingerUpdated:          "FINGER_UPDATED",
	LookupForwarded:        "LOOKUP_FORWARDED",
	LookupCompleted:        "LOOKUP_COMPLETED",
	KeysTransferred:        "KEYS_TRANSFERRED",
	IndexMerged:            "INDEX_MERGED",
	Published:              "PUBLISHED",
	RingStateReport:        "RING_STATE",
	SearchResult:           "SEARCH_RESULT",
	PingReply:              "PING_REPLY",
	LookupReport:           "LOOKUP",
	SuccessorReport:        "SUCCESSOR",
	MalformedMessage:       "MALFORMED_MESSAGE",
	UnknownSender:          "UNKNOWN_SENDER",
	UnknownTransaction:     "UNKNOWN_TRANSACTION",
	NotJoined:              "NOT_JOINED",
	PredecessorRejected:    "PREDECESSOR_REJECTED",
	DestinationUnreachable: "DESTINATION_UNREACHABLE",
	PingTimedOut:           "PING_TIMEOUT",
	TtlExpired:             "TTL_EXPIRED",
	KeysLost:               "KEYS_LOST",
	LookupAbandoned:        "LOOKUP_ABANDONED",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return fmt.Sprintf("EVENT(%d)", int(e))
}

func (e Event) Level() slog.Level {
	switch {
	case e >= 1000:
		return slog.LevelWarn
	case e >= 500:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}

func logEvent(log *slog.Logger, event Event, desc string, args ...any) {
	log.Log(context.Background(), event.Level(), fmt.Sprintf("%s %s", event.String(), desc), args...)
}
