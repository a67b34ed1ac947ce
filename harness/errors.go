package harness

import "fmt"

// Phase is the state of a single repetition.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStackPrimed
	PhaseInvoked
	PhaseSucceeded
	PhaseFaulted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStackPrimed:
		return "stack_primed"
	case PhaseInvoked:
		return "invoked"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// EngineFault is returned when the engine populated the fault channel.
type EngineFault struct {
	Entry     string
	Iteration int
	Message   string
	Address   uint32
}

func (e *EngineFault) Error() string {
	return fmt.Sprintf("engine fault in %s at iteration %d: %s at 0x%x",
		e.Entry, e.Iteration, e.Message, e.Address)
}

// ConsistencyViolation is returned when a repetition produced a different
// accumulator value than the first one without reporting a fault.
type ConsistencyViolation struct {
	Entry     string
	Iteration int
	Expected  uint32
	Observed  uint32
}

func (e *ConsistencyViolation) Error() string {
	return fmt.Sprintf("consistency violation in %s at iteration %d: expected %d, observed %d",
		e.Entry, e.Iteration, e.Expected, e.Observed)
}

// ConfigError is a defect in the harness setup itself, such as a stack
// pointer that puts the return sentinel outside the arena. It is never an
// engine failure.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("harness setup: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
