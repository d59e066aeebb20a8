// Package timesync converts between a client's clock and the server clock
// using a fixed per-connection offset.
package timesync

import "github.com/jonboulle/clockwork"

// TimeSync holds one connection's clock offset. Conversions are exact
// linear shifts; ToClientTime(ToServerTime(t)) == t for any t.
type TimeSync struct {
	clock  clockwork.Clock
	offset float64
	synced bool
}

// New returns a TimeSync with no offset established yet.
func New(clock clockwork.Clock) *TimeSync {
	return &TimeSync{clock: clock}
}

// HandleSyncRequest answers a single round-trip sync probe with the current
// server time in milliseconds. The client does its own latency estimation;
// the server performs no averaging.
func (t *TimeSync) HandleSyncRequest() float64 {
	return float64(t.clock.Now().UnixNano()) / 1e6
}

// SetOffset fixes the client-to-server offset in milliseconds.
func (t *TimeSync) SetOffset(offset float64) {
	t.offset = offset
	t.synced = true
}

// ToServerTime converts a client timestamp to server time.
func (t *TimeSync) ToServerTime(clientTime float64) float64 {
	return clientTime + t.offset
}

// ToClientTime converts a server timestamp to client time.
func (t *TimeSync) ToClientTime(serverTime float64) float64 {
	return serverTime - t.offset
}

// Synced reports whether an offset has been established.
func (t *TimeSync) Synced() bool {
	return t.synced
}
