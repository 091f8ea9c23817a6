package protocol

import (
	"fmt"
	"strings"
)

// Command tokens carried in frame 0 of every message.
const (
	CmdHello    = "HELLO"
	CmdReady    = "READY"
	CmdTrain    = "TRAIN"
	CmdTest     = "TEST"
	CmdStop     = "STOP"
	CmdOK       = "OK"
	CmdKO       = "KO"
	CmdFinished = "FINISHED"
)

// Ack is the fixed token sent back to a worker after each report.
const Ack = CmdOK

// Message is an ordered list of string frames. Frame 0 is the command token.
type Message []string

func NewMessage(cmd string, args ...string) Message {
	return append(Message{cmd}, args...)
}

// Command returns frame 0, or "" for an empty message.
func (m Message) Command() string {
	if len(m) == 0 {
		return ""
	}
	return m[0]
}

// Arg returns the i-th argument (frame i+1) and whether it was present.
func (m Message) Arg(i int) (string, bool) {
	if i < 0 || i+1 >= len(m) {
		return "", false
	}
	return m[i+1], true
}

func (m Message) Valid() bool {
	return len(m) > 0 && m[0] != ""
}

func (m Message) Frames() [][]byte {
	frames := make([][]byte, len(m))
	for i, f := range m {
		frames[i] = []byte(f)
	}
	return frames
}

func MessageFromFrames(frames [][]byte) Message {
	m := make(Message, len(frames))
	for i, f := range frames {
		m[i] = string(f)
	}
	return m
}

func (m Message) String() string {
	return "[" + strings.Join(m, ", ") + "]"
}

// Phase is one stage of the run sequence.
type Phase int

const (
	PhaseBootstrapping Phase = iota
	PhaseTraining
	PhaseTesting
	PhaseAwaitingWorkers
	PhaseStopping
	PhaseDone
	PhaseFailed
)

var phaseNames = map[Phase]string{
	PhaseBootstrapping:   "BOOTSTRAPPING",
	PhaseTraining:        "TRAINING",
	PhaseTesting:         "TESTING",
	PhaseAwaitingWorkers: "AWAITING_WORKERS",
	PhaseStopping:        "STOPPING",
	PhaseDone:            "DONE",
	PhaseFailed:          "FAILED",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// CanTransition reports whether next may follow p. Transitions are single
// forward steps; FAILED is reachable from every non-terminal phase.
func (p Phase) CanTransition(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	return next == p+1
}

type WorkerStatus int

const (
	WorkerCreated WorkerStatus = iota
	WorkerStarted
	WorkerStopped
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerCreated:
		return "CREATED"
	case WorkerStarted:
		return "STARTED"
	case WorkerStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("WorkerStatus(%d)", int(s))
	}
}

func (s WorkerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WorkerRecord is the coordinator's view of one worker.
type WorkerRecord struct {
	Name   string       `json:"name"`
	Status WorkerStatus `json:"status"`
}

// Report is an inbound worker message after decoding.
type Report struct {
	Worker string
	Rest   Message
}
