package model

import "fmt"

// ValidationError marks a corrupt or unresolvable graph reference met
// at execution time. It halts the walk for one contact only.
type ValidationError struct {
	NodeId string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("graph validation error at node %s: %s", e.NodeId, e.Reason)
}

// LoopGuardError marks a walk stopped by cycle detection or the step
// bound.
type LoopGuardError struct {
	NodeId string
	Steps  int
}

func (e LoopGuardError) Error() string {
	return fmt.Sprintf("loop guard tripped at node %s after %d steps", e.NodeId, e.Steps)
}

// LockTimeoutError marks an event rejected because the per-contact
// lock could not be acquired within its bound.
type LockTimeoutError struct {
	Key string
}

func (e LockTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for contact lock %s", e.Key)
}
