package udev

// Action is the kind of change an Event reports. Values outside the
// constants below are kept verbatim.
type Action string

const (
	ActionAdd     Action = "add"
	ActionRemove  Action = "remove"
	ActionChange  Action = "change"
	ActionMove    Action = "move"
	ActionOnline  Action = "online"
	ActionOffline Action = "offline"
)

// ParseAction maps an action string from the registry onto an Action.
func ParseAction(s string) Action {
	return Action(s)
}

// Known reports whether a is one of the named actions rather than an
// opaque value such as "bind".
func (a Action) Known() bool {
	switch a {
	case ActionAdd, ActionRemove, ActionChange, ActionMove, ActionOnline, ActionOffline:
		return true
	}
	return false
}

func (a Action) String() string {
	return string(a)
}

// Event describes one change to the device tree. Seqnum increases with
// every event the kernel emits, so a gap means events were lost or
// filtered out upstream.
type Event struct {
	Action Action
	Seqnum uint64
}
