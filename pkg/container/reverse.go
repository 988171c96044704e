package container

// cleanupStack accumulates rollback actions as a pipeline proceeds
// step by step; on failure, Unwind runs them in reverse order, the
// direct implementation of spec.md's "push a cleanup closure after
// every successful step, pop and run them in reverse on failure"
// design for the start/stop/exec/delete pipelines.
type cleanupStack struct {
	actions []func()
}

// push records action to run if the pipeline later fails.
func (c *cleanupStack) push(action func()) {
	c.actions = append(c.actions, action)
}

// commit discards every recorded action: the pipeline succeeded, so
// none of its intermediate steps should be undone.
func (c *cleanupStack) commit() {
	c.actions = nil
}

// unwind runs every recorded action in reverse order, then discards
// them so a defer calling unwind twice is a no-op.
func (c *cleanupStack) unwind() {
	for i := len(c.actions) - 1; i >= 0; i-- {
		c.actions[i]()
	}
	c.actions = nil
}
