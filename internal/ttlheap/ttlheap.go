// Package ttlheap implements a binary min-heap ordered by deadline, for
// driving per-key expiration. Rather than the back-ref pointer into an
// external size field that a C port would carry on the owning record,
// each item is addressed by an opaque Handle returned from Push; the heap
// itself keeps the handle-to-slot mapping in sync under every sift, and
// owners hold only the handle.
package ttlheap

// Handle addresses a live item in a Heap. Handles start at 0, so the zero
// value is a valid handle; use NoHandle for "absent".
type Handle int32

// NoHandle marks the absence of a TTL.
const NoHandle Handle = -1

type item struct {
	deadline uint64
	handle   Handle
}

// Heap is a min-heap on deadline, indexed by handle for O(log n) removal
// and retargeting of arbitrary items (not just the minimum).
type Heap struct {
	items []item
	pos   []int // indexed by Handle: slot in items, or -1 if not live
	free  []Handle
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{}
}

// Len returns the number of live items.
func (h *Heap) Len() int { return len(h.items) }

func (h *Heap) allocHandle() Handle {
	if n := len(h.free); n > 0 {
		hd := h.free[n-1]
		h.free = h.free[:n-1]
		return hd
	}
	hd := Handle(len(h.pos))
	h.pos = append(h.pos, -1)
	return hd
}

func (h *Heap) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.pos[h.items[i].handle] = i
	h.pos[h.items[j].handle] = j
}

func (h *Heap) siftUp(i int) int {
	for i > 0 {
		p := (i - 1) / 2
		if h.items[p].deadline <= h.items[i].deadline {
			break
		}
		h.swap(p, i)
		i = p
	}
	return i
}

func (h *Heap) siftDown(i int) int {
	n := len(h.items)
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < n && h.items[l].deadline < h.items[smallest].deadline {
			smallest = l
		}
		if r < n && h.items[r].deadline < h.items[smallest].deadline {
			smallest = r
		}
		if smallest == i {
			break
		}
		h.swap(i, smallest)
		i = smallest
	}
	return i
}

// Push inserts a new item with the given deadline and returns its handle.
func (h *Heap) Push(deadlineMicros uint64) Handle {
	hd := h.allocHandle()
	idx := len(h.items)
	h.items = append(h.items, item{deadline: deadlineMicros, handle: hd})
	h.pos[hd] = idx
	h.siftUp(idx)
	return hd
}

func (h *Heap) removeAt(idx int) {
	last := len(h.items) - 1
	hd := h.items[idx].handle
	if idx != last {
		h.swap(idx, last)
	}
	h.items = h.items[:last]
	h.pos[hd] = -1
	h.free = append(h.free, hd)
	if idx < len(h.items) {
		i := h.siftDown(idx)
		h.siftUp(i)
	}
}

// Remove detaches hd from the heap. It reports whether hd was live.
func (h *Heap) Remove(hd Handle) bool {
	if hd < 0 || int(hd) >= len(h.pos) {
		return false
	}
	idx := h.pos[hd]
	if idx < 0 {
		return false
	}
	h.removeAt(idx)
	return true
}

// PopMin removes and returns the handle with the smallest deadline.
func (h *Heap) PopMin() (Handle, bool) {
	if len(h.items) == 0 {
		return NoHandle, false
	}
	hd := h.items[0].handle
	h.removeAt(0)
	return hd, true
}

// Peek returns the handle and deadline of the minimum item without
// removing it.
func (h *Heap) Peek() (Handle, uint64, bool) {
	if len(h.items) == 0 {
		return NoHandle, 0, false
	}
	return h.items[0].handle, h.items[0].deadline, true
}

// Deadline returns hd's current deadline.
func (h *Heap) Deadline(hd Handle) (uint64, bool) {
	if hd < 0 || int(hd) >= len(h.pos) {
		return 0, false
	}
	idx := h.pos[hd]
	if idx < 0 {
		return 0, false
	}
	return h.items[idx].deadline, true
}

// UpdateDeadline retargets hd's deadline and re-establishes heap order.
func (h *Heap) UpdateDeadline(hd Handle, deadlineMicros uint64) bool {
	if hd < 0 || int(hd) >= len(h.pos) {
		return false
	}
	idx := h.pos[hd]
	if idx < 0 {
		return false
	}
	h.items[idx].deadline = deadlineMicros
	i := h.siftUp(idx)
	h.siftDown(i)
	return true
}
