package engine

// Reducer consumes the session log incrementally for one room. It keeps its
// own cursor so repeated passes over the same log are no-ops.
type Reducer struct {
	room   string
	cursor uint64
	state  Projection
}

func NewReducer(room string) *Reducer {
	return &Reducer{room: room, state: NewProjection(room)}
}

func (r *Reducer) Room() string   { return r.room }
func (r *Reducer) Cursor() uint64 { return r.cursor }

// Consume applies every event newer than the cursor in ascending Seq order
// and returns the ones that belonged to this room. Events for other rooms
// still move the cursor.
func (r *Reducer) Consume(events []Event) []Event {
	var applied []Event
	for _, ev := range events {
		if ev.Seq <= r.cursor {
			continue
		}
		r.cursor = ev.Seq
		if ev.Msg.RoomCode != r.room {
			continue
		}
		if r.state.Terminal() {
			continue
		}
		r.state = Apply(r.state, ev.Msg)
		applied = append(applied, ev)
	}
	return applied
}

// State returns a copy that callers may hold without seeing later updates.
func (r *Reducer) State() Projection {
	s := r.state
	if s.MyGuess != nil {
		g := *s.MyGuess
		s.MyGuess = &g
	}
	if s.RoundResult != nil {
		rr := *s.RoundResult
		s.RoundResult = &rr
	}
	if s.GameOver != nil {
		g := *s.GameOver
		s.GameOver = &g
	}
	return s
}

// Update runs a local transition (guess, submit lock) against the current
// state.
func (r *Reducer) Update(fn func(Projection) (Projection, error)) error {
	next, err := fn(r.state)
	if err != nil {
		return err
	}
	r.state = next
	return nil
}
