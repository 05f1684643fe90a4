package guide

import (
	"errors"
	"sort"
	"sync"
	"time"

	"taskdealer/internal/partition"
	"taskdealer/internal/prompt"
)

// ErrUnknownSlot is returned when a request names an ID not on the board.
var ErrUnknownSlot = errors.New("no slot for assignment")

// Slot is the display state of one assignment.
type Slot struct {
	ID         int
	Kind       prompt.Kind
	Assignment partition.Assignment
	State      State
	Partial    string // live think-suppressed text while streaming
	Markdown   string // cleaned final text
	Markup     string // rendered Markdown
	Source     Source
	CachedAt   time.Time
	Err        error
	SaveErr    error // cache write failure of a generated guide

	token uint64
}

// Update is sent to subscribers whenever a slot changes.
type Update struct {
	ID    int
	State State
}

// Board holds the current result set. Each slot is written only by the run
// holding its current token; writes carrying an older token are dropped.
type Board struct {
	mu        sync.RWMutex
	slots     map[int]*Slot
	order     []int
	nextToken uint64

	subMu sync.Mutex
	subs  map[int]chan Update
	subID int
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{slots: make(map[int]*Slot), subs: make(map[int]chan Update)}
}

// Reset replaces the result set. Runs belonging to the previous set can no
// longer write.
func (b *Board) Reset(assignments []partition.Assignment) {
	b.mu.Lock()
	b.slots = make(map[int]*Slot, len(assignments))
	b.order = b.order[:0]
	for _, a := range assignments {
		b.nextToken++
		b.slots[a.ID] = &Slot{ID: a.ID, Assignment: a, State: StatePending, token: b.nextToken}
		b.order = append(b.order, a.ID)
	}
	b.mu.Unlock()

	for _, a := range assignments {
		b.notify(Update{ID: a.ID, State: StatePending})
	}
}

// Clear empties the board.
func (b *Board) Clear() {
	b.Reset(nil)
}

// Len returns the number of slots.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}

// Slot returns a copy of slot id.
func (b *Board) Slot(id int) (Slot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.slots[id]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// Snapshot returns copies of all slots in assignment order.
func (b *Board) Snapshot() []Slot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Slot, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.slots[id])
	}
	return out
}

// Assignments returns the assignments of the current result set.
func (b *Board) Assignments() []partition.Assignment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]partition.Assignment, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.slots[id].Assignment)
	}
	return out
}

// Subscribe returns a channel of slot updates and a function that ends the
// subscription. Updates are dropped for a subscriber that falls behind;
// Snapshot is always authoritative.
func (b *Board) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 64)
	b.subMu.Lock()
	b.subID++
	id := b.subID
	b.subs[id] = ch
	b.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subMu.Lock()
			delete(b.subs, id)
			b.subMu.Unlock()
			close(ch)
		})
	}
}

func (b *Board) notify(u Update) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// begin starts a new run on slot id, invalidating any earlier run's token.
func (b *Board) begin(id int, kind prompt.Kind) (uint64, bool) {
	b.mu.Lock()
	s, ok := b.slots[id]
	if !ok {
		b.mu.Unlock()
		return 0, false
	}
	b.nextToken++
	s.token = b.nextToken
	s.Kind = kind
	s.State = StatePending
	s.Partial, s.Markdown, s.Markup = "", "", ""
	s.Source, s.CachedAt, s.Err, s.SaveErr = SourceNone, time.Time{}, nil, nil
	token := s.token
	b.mu.Unlock()

	b.notify(Update{ID: id, State: StatePending})
	return token, true
}

// update applies fn to slot id if token still owns it.
func (b *Board) update(id int, token uint64, fn func(*Slot)) bool {
	b.mu.Lock()
	s, ok := b.slots[id]
	if !ok || s.token != token {
		b.mu.Unlock()
		return false
	}
	fn(s)
	state := s.State
	b.mu.Unlock()

	b.notify(Update{ID: id, State: state})
	return true
}

func (b *Board) setState(id int, token uint64, state State) bool {
	return b.update(id, token, func(s *Slot) { s.State = state })
}

// Counts tallies slots by state.
func (b *Board) Counts() map[State]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	counts := make(map[State]int)
	for _, s := range b.slots {
		counts[s.State]++
	}
	return counts
}

// IDs returns slot IDs in ascending order.
func (b *Board) IDs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := append([]int(nil), b.order...)
	sort.Ints(ids)
	return ids
}
