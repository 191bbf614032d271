package recovery

// Strategy decides how the triage pipeline reacts to a recoverable fault.
type Strategy interface {
	OnError(err error, location Location) Action
}

// Location identifies where in the pipeline a fault was observed.
type Location struct {
	ObjectNumber string
	Keyword      string
	Component    string
}

type Action int

const (
	ActionFail Action = iota
	ActionSkip
	ActionWarn
)
