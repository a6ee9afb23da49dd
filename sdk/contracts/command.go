package contracts

// Command is an application command produced from a MIDI event.
type Command struct {
	ID         CommandID
	Value      float64 // [0,1] for absolute controls, signed delta in [-1,1] for relative ones
	Relative   bool
	Trigger    bool
	Generation uint64 // binding table generation that resolved the command
}

// NotificationKind separates parameter updates from host control verbs.
type NotificationKind int

const (
	// ParameterNotification carries a normalized parameter value.
	ParameterNotification NotificationKind = iota
	// SwitchProfileNotification asks the bridge to activate the named profile.
	SwitchProfileNotification
	// LogNotification carries a message the host wants logged.
	LogNotification
	// SendKeyNotification asks for a keystroke; accepted and ignored.
	SendKeyNotification
	// TerminateNotification asks the bridge to shut down.
	TerminateNotification
)

func (k NotificationKind) String() string {
	switch k {
	case SwitchProfileNotification:
		return "SwitchProfile"
	case LogNotification:
		return "Log"
	case SendKeyNotification:
		return "SendKey"
	case TerminateNotification:
		return "TerminateApplication"
	}
	return "Parameter"
}

// Notification is one message from the host application.
type Notification struct {
	Kind  NotificationKind
	ID    CommandID
	Value float64
	Text  string
}

// ConnectionState is the IPC channel lifecycle state.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	}
	return "disconnected"
}
