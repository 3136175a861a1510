// Package capture realigns read bursts coming back from the device. Data is
// sampled on both edges of the data strobe.
package capture

// NumSlots is the number of words in one captured burst.
const NumSlots = 8

// RingBuffer samples the device data on every strobe transition after being
// armed, until all slots are filled.
type RingBuffer struct {
	slots    [NumSlots]uint64
	armed    bool
	next     int
	prevDQS  bool
	captured int
}

// Step advances the buffer by one tick. listen is the one-tick arm pulse from
// the engine; dqs and dq are what the device drives in this tick. A pulse
// restarts the capture at slot 0 even if a previous burst is unfinished.
func (r *RingBuffer) Step(listen bool, dqs bool, dq uint64) {
	if listen {
		r.armed = true
		r.next = 0
		r.captured = 0
	}

	if r.armed && dqs != r.prevDQS {
		r.slots[r.next] = dq
		r.next = (r.next + 1) % NumSlots
		r.captured++

		if r.captured == NumSlots {
			r.armed = false
		}
	}

	r.prevDQS = dqs
}

// At presents the slot selected by the read pointer.
func (r *RingBuffer) At(ptr int) uint64 {
	return r.slots[ptr%NumSlots]
}

// Armed returns true while the buffer still waits for samples.
func (r *RingBuffer) Armed() bool {
	return r.armed
}

// Captured returns how many samples the current burst has collected.
func (r *RingBuffer) Captured() int {
	return r.captured
}
