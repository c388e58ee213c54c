package domain

// Step names the stage a progress event reports on.
type Step string

const (
	StepGeneratingCode Step = "generating_code"
	StepCodeGenerated  Step = "code_generated"
	StepRendering      Step = "rendering"
	StepFixingCode     Step = "fixing_code"
	StepComplete       Step = "complete"
	StepError          Step = "error"
)

// Event is a progress notification. The concrete types below form a closed
// set; each carries only the payload its step allows.
type Event interface {
	Step() Step
	Message() string
	Progress() int
	// WithProgress returns a copy of the event carrying p.
	WithProgress(p int) Event
}

// Base holds the fields every event carries.
type Base struct {
	Msg string
	Pct int
}

func (b Base) Message() string { return b.Msg }
func (b Base) Progress() int   { return b.Pct }

type GeneratingCode struct{ Base }

func (GeneratingCode) Step() Step { return StepGeneratingCode }
func (e GeneratingCode) WithProgress(p int) Event {
	e.Pct = p
	return e
}

// CodeGenerated carries a script ready to render, original or repaired.
type CodeGenerated struct {
	Base
	Code    string
	Attempt int
}

func (CodeGenerated) Step() Step { return StepCodeGenerated }
func (e CodeGenerated) WithProgress(p int) Event {
	e.Pct = p
	return e
}

// Rendering is a renderer status update; Line is set when Msg is a raw
// stderr line.
type Rendering struct {
	Base
	Line bool
}

func (Rendering) Step() Step { return StepRendering }
func (e Rendering) WithProgress(p int) Event {
	e.Pct = p
	return e
}

// FixingCode announces the single repair, carrying the script that failed.
type FixingCode struct {
	Base
	Code string
}

func (FixingCode) Step() Step { return StepFixingCode }
func (e FixingCode) WithProgress(p int) Event {
	e.Pct = p
	return e
}

type Completed struct {
	Base
	VideoURL string
}

func (Completed) Step() Step { return StepComplete }
func (e Completed) WithProgress(p int) Event {
	e.Pct = p
	return e
}

type Failed struct{ Base }

func (Failed) Step() Step { return StepError }
func (e Failed) WithProgress(p int) Event {
	e.Pct = p
	return e
}

// IsTerminal reports whether e ends a task's event sequence.
func IsTerminal(e Event) bool {
	switch e.Step() {
	case StepComplete, StepError:
		return true
	}
	return false
}

// WireEvent is the JSON shape sent to clients.
type WireEvent struct {
	Step     Step   `json:"step"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
	Code     string `json:"code,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
}

// ToWire flattens an event for serialization.
func ToWire(e Event) WireEvent {
	w := WireEvent{Step: e.Step(), Message: e.Message(), Progress: e.Progress()}
	switch ev := e.(type) {
	case CodeGenerated:
		w.Code = ev.Code
	case FixingCode:
		w.Code = ev.Code
	case Completed:
		w.VideoURL = ev.VideoURL
	}
	return w
}
