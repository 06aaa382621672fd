package chat

// State is a step of a single chat turn.
type State int

const (
	StateReceived State = iota
	StateEmbedding
	StateRetrieving
	StateAssembling
	StateGenerating
	StatePersisting
	StateDelivered
	StateFailed
)

var stateNames = [...]string{
	StateReceived:   "received",
	StateEmbedding:  "embedding",
	StateRetrieving: "retrieving",
	StateAssembling: "assembling",
	StateGenerating: "generating",
	StatePersisting: "persisting",
	StateDelivered:  "delivered",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
