package recovery

import "fmt"

// StrictStrategy fails on the first fault. Used in tests to surface
// report shapes the normalizer should have accepted.
type StrictStrategy struct{}

func NewStrictStrategy() *StrictStrategy { return &StrictStrategy{} }

func (s *StrictStrategy) OnError(err error, location Location) Action {
	return ActionFail
}

// LenientStrategy is the production strategy: a malformed report or a
// failed sub-query never aborts the pass. Faults are accumulated as a
// de-duplicated set for the final error section.
type LenientStrategy struct {
	seen   map[string]struct{}
	Errors []string
}

func NewLenientStrategy() *LenientStrategy {
	return &LenientStrategy{seen: make(map[string]struct{})}
}

func (s *LenientStrategy) OnError(err error, location Location) Action {
	msg := err.Error()
	if location.Component != "" {
		msg = fmt.Sprintf("[%s] %s", location.Component, msg)
	}
	if _, dup := s.seen[msg]; !dup {
		s.seen[msg] = struct{}{}
		s.Errors = append(s.Errors, msg)
	}
	return ActionSkip
}
