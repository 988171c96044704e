package container

import (
	"github.com/cuemby/cored/pkg/errs"
)

// stepError wraps an underlying pipeline-step failure with the step's
// name, so a caller's log line and LastError field both show exactly
// where in start/stop/exec/delete things went wrong, while
// errs.Is(err, kind) still reaches the original kind through Unwrap.
func stepError(step string, err error) error {
	if err == nil {
		return nil
	}
	return errs.Wrap(kindOf(err), step+": "+messageOf(err), err)
}

func kindOf(err error) errs.Kind {
	if e, ok := err.(*errs.Error); ok {
		return e.Kind
	}
	return errs.KindRuntimeFailure
}

func messageOf(err error) string {
	return err.Error()
}
