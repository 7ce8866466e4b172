package recovery

import "fmt"

// OutcomeKind enumerates the results of one extraction attempt.
type OutcomeKind int

// Outcome kinds returned by the extraction pipeline.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeNeedsLogin
	OutcomeCrashed
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeNeedsLogin:
		return "needs_login"
	case OutcomeCrashed:
		return "crashed"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the explicit result variant of one extraction attempt.
// Messages is set only for OutcomeSuccess; Err carries the cause for
// OutcomeCrashed and OutcomeError.
type Outcome struct {
	Kind     OutcomeKind
	Messages []string
	Err      error
}

// Success wraps extracted messages.
func Success(messages []string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Messages: messages}
}

// NeedsLogin reports that navigation landed on an authentication surface.
func NeedsLogin() Outcome {
	return Outcome{Kind: OutcomeNeedsLogin}
}

// Crashed reports that the browser transport is gone.
func Crashed(err error) Outcome {
	return Outcome{Kind: OutcomeCrashed, Err: err}
}

// Failed reports any other extraction error.
func Failed(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// Reason renders a human-readable cause for logs and failure records.
func (o Outcome) Reason() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Kind.String()
}
