package rpc

import "sync/atomic"

// WaitDepth is an owned, per-Endpoint counter of nested busy waits,
// replacing the original design's process-global counter per spec.md
// §9's redesign flag ("the counter's seed is owned, not
// process-global"). Collaborators that want to defer foreground work
// while a busy wait is outstanding read Endpoint.WaitDepthCount().
type WaitDepth struct {
	n atomic.Int32
}

// Enter increments the depth counter; pair with a deferred Leave.
func (d *WaitDepth) Enter() { d.n.Add(1) }

// Leave decrements the depth counter.
func (d *WaitDepth) Leave() { d.n.Add(-1) }

// Count reports the current nesting depth.
func (d *WaitDepth) Count() int { return int(d.n.Load()) }
