package rollout

import "fmt"

// EnvironmentInteractionError carries an environment reset/step failure
// unchanged; errors.Is/As reach the original through Unwrap.
type EnvironmentInteractionError struct {
	Episode int
	Step    int
	Op      string
	Err     error
}

func (e *EnvironmentInteractionError) Error() string {
	if e.Op == "reset" {
		return fmt.Sprintf("episode %d: environment reset: %v", e.Episode, e.Err)
	}
	return fmt.Sprintf("episode %d step %d: environment %s: %v", e.Episode, e.Step, e.Op, e.Err)
}

func (e *EnvironmentInteractionError) Unwrap() error {
	return e.Err
}

// ContractViolationError reports a policy or environment output with the wrong
// shape. It signals an integration bug and is never coerced.
type ContractViolationError struct {
	Episode int
	Step    int
	Detail  string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("episode %d step %d: contract violation: %s", e.Episode, e.Step, e.Detail)
}
