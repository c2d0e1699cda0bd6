package client

// State is where a remote call is in its exchange with the console.
//
//	Idle → BufferRequested → Encoded → Uploaded → StatusReceived
//	     → [ReturnRequested → ResultReceived] → Done
//
// Failed is reachable from every state and is terminal.
type State int

const (
	StateIdle State = iota
	StateBufferRequested
	StateEncoded
	StateUploaded
	StateStatusReceived
	StateReturnRequested
	StateResultReceived
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:            "Idle",
	StateBufferRequested: "BufferRequested",
	StateEncoded:         "Encoded",
	StateUploaded:        "Uploaded",
	StateStatusReceived:  "StatusReceived",
	StateReturnRequested: "ReturnRequested",
	StateResultReceived:  "ResultReceived",
	StateDone:            "Done",
	StateFailed:          "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// next lists the legal successors of every state besides Failed.
var next = map[State][]State{
	StateIdle:            {StateBufferRequested},
	StateBufferRequested: {StateEncoded},
	StateEncoded:         {StateUploaded},
	StateUploaded:        {StateStatusReceived},
	StateStatusReceived:  {StateReturnRequested, StateDone},
	StateReturnRequested: {StateResultReceived},
	StateResultReceived:  {StateDone},
}

func canTransition(from, to State) bool {
	if to == StateFailed {
		return from != StateDone && from != StateFailed
	}
	for _, s := range next[from] {
		if s == to {
			return true
		}
	}
	return false
}
