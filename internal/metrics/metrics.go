package metrics

import "sync/atomic"

// Counters holds the relay's process-lifetime counters. The zero value is
// ready to use; a single instance is shared by every component.
type Counters struct {
	FramesBroadcast   atomic.Int64
	RecipientDrops    atomic.Int64
	UpstreamFrames    atomic.Int64
	UnknownFrames     atomic.Int64
	Reconnects        atomic.Int64
	AbandonedTopics   atomic.Int64
	ClientConnects    atomic.Int64
	ClientDisconnects atomic.Int64
}

// Snapshot returns the current counter values as a map keyed for the
// health endpoint's JSON payload.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"frames_broadcast":   c.FramesBroadcast.Load(),
		"recipient_drops":    c.RecipientDrops.Load(),
		"upstream_frames":    c.UpstreamFrames.Load(),
		"unknown_frames":     c.UnknownFrames.Load(),
		"reconnects":         c.Reconnects.Load(),
		"abandoned_topics":   c.AbandonedTopics.Load(),
		"client_connects":    c.ClientConnects.Load(),
		"client_disconnects": c.ClientDisconnects.Load(),
	}
}
