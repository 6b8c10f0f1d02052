package keyslot

import "sort"

// freeList hands out the lowest free id first.
type freeList struct {
	ids []int // sorted ascending
}

func newFreeList(from, to int) *freeList {
	fl := &freeList{}
	for id := from; id < to; id++ {
		fl.ids = append(fl.ids, id)
	}
	return fl
}

// take removes and returns the lowest free id.
func (fl *freeList) take() (int, bool) {
	if len(fl.ids) == 0 {
		return 0, false
	}
	id := fl.ids[0]
	fl.ids = fl.ids[1:]
	return id, true
}

// remove marks id as used. It reports whether id was free.
func (fl *freeList) remove(id int) bool {
	i := sort.SearchInts(fl.ids, id)
	if i == len(fl.ids) || fl.ids[i] != id {
		return false
	}
	fl.ids = append(fl.ids[:i], fl.ids[i+1:]...)
	return true
}

// release returns id to the list.
func (fl *freeList) release(id int) {
	i := sort.SearchInts(fl.ids, id)
	if i < len(fl.ids) && fl.ids[i] == id {
		return
	}
	fl.ids = append(fl.ids, 0)
	copy(fl.ids[i+1:], fl.ids[i:])
	fl.ids[i] = id
}

func (fl *freeList) len() int { return len(fl.ids) }
