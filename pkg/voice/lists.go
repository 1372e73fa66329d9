package voice

// freeStack holds the indices of unassigned slots. LIFO.
type freeStack struct {
	idx []uint32
}

// newFreeStack returns a stack holding every index in [0, n), with 0 on top.
func newFreeStack(n uint32) freeStack {
	s := freeStack{idx: make([]uint32, 0, n)}
	for i := n; i > 0; i-- {
		s.idx = append(s.idx, i-1)
	}
	return s
}

func (s *freeStack) push(i uint32) { s.idx = append(s.idx, i) }

func (s *freeStack) pop() (uint32, bool) {
	n := len(s.idx)
	if n == 0 {
		return 0, false
	}
	i := s.idx[n-1]
	s.idx = s.idx[:n-1]
	return i, true
}

func (s *freeStack) len() int { return len(s.idx) }

// activeList is an intrusive doubly-linked list over the pool's records,
// ascending by priority. Among equal priorities the most recently inserted
// voice sorts last, so the head is always the first eviction candidate.
type activeList struct {
	head, tail int32
	n          int
}

func newActiveList() activeList {
	return activeList{head: none, tail: none}
}

// insert links rs[i] at its sorted position, scanning from the tail.
func (l *activeList) insert(rs []record, i int32) {
	p := rs[i].priority
	after := l.tail
	for after != none && rs[after].priority > p {
		after = rs[after].link.prev
	}

	n := &rs[i].link
	if after == none {
		n.prev = none
		n.next = l.head
		if l.head != none {
			rs[l.head].link.prev = i
		} else {
			l.tail = i
		}
		l.head = i
	} else {
		n.prev = after
		n.next = rs[after].link.next
		if n.next != none {
			rs[n.next].link.prev = i
		} else {
			l.tail = i
		}
		rs[after].link.next = i
	}
	l.n++
}

// remove unlinks rs[i]. i must be linked.
func (l *activeList) remove(rs []record, i int32) {
	n := &rs[i].link
	if n.prev != none {
		rs[n.prev].link.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != none {
		rs[n.next].link.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.next, n.prev = none, none
	l.n--
}

func (l *activeList) peek() int32 { return l.head }

func (l *activeList) len() int { return l.n }

// each visits linked indices head to tail until fn returns false.
func (l *activeList) each(rs []record, fn func(i int32) bool) {
	for i := l.head; i != none; i = rs[i].link.next {
		if !fn(i) {
			return
		}
	}
}
