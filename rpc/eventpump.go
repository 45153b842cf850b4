package rpc

import "time"

// EventPump is the external collaborator spec.md §4.6 names for busy
// waits: when a WaitFor call is made in busy mode on the host's
// foreground thread, it cooperatively services other pending work (a
// GUI toolkit's event loop, in the original design) for up to budget
// between polls, instead of blocking directly on the channel. This
// package only defines the seam; a real pump is out of scope here per
// spec.md §1 ("UI toggling... surfaced only as opaque message kinds").
type EventPump interface {
	Pump(budget time.Duration)
}

// NullPump is the default EventPump: it simply sleeps out the budget,
// equivalent to having no foreground work to service.
type NullPump struct{}

func (NullPump) Pump(budget time.Duration) {
	time.Sleep(budget)
}
