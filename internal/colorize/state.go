package colorize

// DefaultColor is the palette column used when no color has been selected.
const DefaultColor = 7

// maxPending bounds how many bytes of an unfinished escape sequence are
// carried between chunks. Longer ones are carried in compacted form.
const maxPending = 32

// State is everything the parser carries from one Feed call to the next.
// It is a plain value: copy it, compare it or serialize it freely.
type State struct {
	Color       int    `json:"color"`
	Bold        bool   `json:"bold"`
	Pending     []byte `json:"pending,omitempty"`
	PendingText []byte `json:"pending_text,omitempty"`
	Charset     string `json:"charset,omitempty"`
}

// NewState returns the state an output session starts with.
func NewState() State {
	return State{Color: DefaultColor}
}

// NewStateWithCharset is NewState with a text encoding other than UTF-8.
// Unknown names fall back to UTF-8 at decode time.
func NewStateWithCharset(charset string) State {
	st := NewState()
	st.Charset = charset
	return st
}

func (s State) reset() State {
	s.Color = DefaultColor
	s.Bold = false
	return s
}
