package manager

import "fmt"

// StartupError reports an action name offered by two providers.
type StartupError struct {
	Action    string
	Providers [2]string
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("duplicate action %q provided by %q and %q", e.Action, e.Providers[0], e.Providers[1])
}

// errDuplicateAction marks a reloaded provider rejected because one of
// its actions is already served by a live provider.
type errDuplicateAction struct {
	action string
	owner  string
}

func (e *errDuplicateAction) Error() string {
	return fmt.Sprintf("action %q is already provided by %q", e.action, e.owner)
}
