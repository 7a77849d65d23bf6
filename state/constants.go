package state

import "time"

const (
	// FingerCount is the number of finger table entries, one per bit of the key space.
	FingerCount = 32
	// LinkCost is the uniform cost advertised for every neighbour.
	LinkCost = uint32(1)
	INF      = ^(uint32)(0)
)

var (
	HelloDelay       = time.Second * 5
	NeighbourTimeout = 5 * HelloDelay
	// LsaMaxAge purges link state records that have not been refreshed, 0 disables aging
	LsaMaxAge = 6 * HelloDelay
	MaxTTL    = uint8(16)

	StabilizeDelay = time.Second * 2
	FixFingerDelay = time.Second * 5

	PingTimeout    = time.Millisecond * 2000
	PingAuditDelay = time.Millisecond * 500

	// LookupTimeout abandons publish and search lookups that were never resolved
	LookupTimeout = time.Second * 10

	TraceBufferSize = 1024

	// default port
	DefaultPort = 57175

	// warn when a single dispatch blocks the main loop for longer than this
	SlowDispatchThreshold = time.Millisecond * 4
)
