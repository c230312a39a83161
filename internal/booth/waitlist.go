package booth

import "github.com/google/uuid"

// waitlist is the ordered queue of users awaiting a booth turn. Insertion
// order is the sole ordering key and a user appears at most once. Not safe
// for concurrent use; the engine's state mutex guards it.
type waitlist struct {
	order  []uuid.UUID
	locked bool
}

func (w *waitlist) contains(id uuid.UUID) bool {
	return w.indexOf(id) >= 0
}

func (w *waitlist) indexOf(id uuid.UUID) int {
	for i, u := range w.order {
		if u == id {
			return i
		}
	}
	return -1
}

func (w *waitlist) append(id uuid.UUID) {
	w.order = append(w.order, id)
}

// insertAt splices id in at position, clamped to [0, len].
func (w *waitlist) insertAt(id uuid.UUID, position int) {
	if position < 0 {
		position = 0
	}
	if position > len(w.order) {
		position = len(w.order)
	}
	w.order = append(w.order, uuid.Nil)
	copy(w.order[position+1:], w.order[position:])
	w.order[position] = id
}

func (w *waitlist) remove(id uuid.UUID) bool {
	i := w.indexOf(id)
	if i < 0 {
		return false
	}
	w.order = append(w.order[:i], w.order[i+1:]...)
	return true
}

func (w *waitlist) moveTo(id uuid.UUID, position int) bool {
	if !w.remove(id) {
		return false
	}
	w.insertAt(id, position)
	return true
}

func (w *waitlist) clear() {
	w.order = nil
}

// snapshot returns a copy safe to hand to callers and event payloads.
func (w *waitlist) snapshot() []uuid.UUID {
	out := make([]uuid.UUID, len(w.order))
	copy(out, w.order)
	return out
}
