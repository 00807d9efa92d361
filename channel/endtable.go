package channel

import (
	"github.com/NVIDIA/interpchannels/cmn/cos"
	"github.com/NVIDIA/interpchannels/interp"
)

type side int

const (
	sideSend side = iota
	sideRecv
)

// end is a (channel, interpreter, side) association record (spec.md §3).
// Never physically removed: an end just moves to open=false on release,
// keeping historical membership queryable (design note §9 leaves
// physical removal an open question; the source never does it and
// neither do we).
type end struct {
	interp interp.Id
	open   bool
	next   *end
}

// endTable is C4: two singly-linked lists (send/recv) plus open counters.
// Always operated on under the owning Channel's mutex.
type endTable struct {
	sendList, recvList           *end
	sendOpenCount, recvOpenCount int
	everSend, everRecv           bool
}

func (t *endTable) list(s side) **end {
	if s == sideSend {
		return &t.sendList
	}
	return &t.recvList
}

func (t *endTable) openCount(s side) *int {
	if s == sideSend {
		return &t.sendOpenCount
	}
	return &t.recvOpenCount
}

func (t *endTable) find(s side, id interp.Id) *end {
	for e := *t.list(s); e != nil; e = e.next {
		if e.interp == id {
			return e
		}
	}
	return nil
}

// associate binds id to side. Inserts a new open entry at the head of the
// side's list if none exists;
// if one exists it must already be open, else ChannelClosed.
func (t *endTable) associate(s side, id interp.Id) error {
	if s == sideSend {
		t.everSend = true
	} else {
		t.everRecv = true
	}
	if e := t.find(s, id); e != nil {
		if !e.open {
			return cos.ErrChannelClosed
		}
		return nil
	}
	e := &end{interp: id, open: true, next: *t.list(s)}
	*t.list(s) = e
	*t.openCount(s)++
	return nil
}

// releaseEnd flips id's entry on side to closed, inserting a
// closed tombstone at the list head if id never associated.
func (t *endTable) releaseEnd(s side, id interp.Id) {
	e := t.find(s, id)
	if e == nil {
		e = &end{interp: id, open: false, next: *t.list(s)}
		*t.list(s) = e
		return
	}
	if e.open {
		e.open = false
		*t.openCount(s)--
	}
}

// releaseAll closes every entry on the chosen side(s).
func (t *endTable) releaseAll(send, recv bool) {
	if send {
		for e := t.sendList; e != nil; e = e.next {
			e.open = false
		}
		t.sendOpenCount = 0
	}
	if recv {
		for e := t.recvList; e != nil; e = e.next {
			e.open = false
		}
		t.recvOpenCount = 0
	}
}

// isOpen is true iff either side has an open count > 0, or neither side
// has ever associated (bootstrap case, spec.md §4.3).
func (t *endTable) isOpen() bool {
	if t.sendOpenCount > 0 || t.recvOpenCount > 0 {
		return true
	}
	return !t.everSend && !t.everRecv
}

// status reports the three-way per-interpreter end status used by
// channel_get_info's "current-interp-status" (SPEC_FULL.md supplemented
// feature #2): unassociated, associated-open, or associated-closed.
type EndStatus int

const (
	Unassociated EndStatus = iota
	AssociatedOpen
	AssociatedClosed
)

func (t *endTable) status(s side, id interp.Id) EndStatus {
	e := t.find(s, id)
	if e == nil {
		return Unassociated
	}
	if e.open {
		return AssociatedOpen
	}
	return AssociatedClosed
}

func (t *endTable) listInterpreters(s side, openOnly bool) []interp.Id {
	var out []interp.Id
	for e := *t.list(s); e != nil; e = e.next {
		if !openOnly || e.open {
			out = append(out, e.interp)
		}
	}
	return out
}
