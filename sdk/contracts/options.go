package contracts

import "time"

// Counter names a diagnostics counter.
type Counter string

const (
	CounterEventsReceived          Counter = "events_received"
	CounterMalformedFrames         Counter = "malformed_frames"
	CounterInputOverflow           Counter = "input_overflow"
	CounterUnboundEvents           Counter = "unbound_events"
	CounterCommandsQueued          Counter = "commands_queued"
	CounterCommandsSent            Counter = "commands_sent"
	CounterCommandsDropped         Counter = "commands_dropped"
	CounterTriggersRejected        Counter = "triggers_rejected"
	CounterNotificationsReceived   Counter = "notifications_received"
	CounterUnresolvedNotifications Counter = "unresolved_notifications"
	CounterEventsSent              Counter = "events_sent"
	CounterSendFailures            Counter = "send_failures"
	CounterProtocolDesyncs         Counter = "protocol_desyncs"
	CounterReconnects              Counter = "reconnects"
	CounterProfileActivations      Counter = "profile_activations"
	CounterProfileFailures         Counter = "profile_failures"
)

// AllCounters lists every counter the core emits.
var AllCounters = []Counter{
	CounterEventsReceived, CounterMalformedFrames, CounterInputOverflow, CounterUnboundEvents,
	CounterCommandsQueued, CounterCommandsSent, CounterCommandsDropped, CounterTriggersRejected,
	CounterNotificationsReceived, CounterUnresolvedNotifications, CounterEventsSent, CounterSendFailures,
	CounterProtocolDesyncs, CounterReconnects, CounterProfileActivations, CounterProfileFailures,
}

// Diagnostics receives counter increments from the core.
type Diagnostics interface {
	Add(counter Counter, delta uint64)
}

// CoreMIDIConfig holds configuration for CoreMIDI.
type CoreMIDIConfig struct {
	ClientName string // Name of the MIDI client.
}

// AccelerationConfig shapes the relative-encoder acceleration curve.
type AccelerationConfig struct {
	Window    time.Duration // Intervals at or above Window get factor 1.
	MaxFactor float64       // Factor reached as the interval approaches zero.
}

// BackoffConfig shapes the reconnect delay.
type BackoffConfig struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
	ResetAfter time.Duration // Connected time after which the delay returns to Min.
}

// BridgeOptions defines the configuration of a bridge and its MIDI port.
type BridgeOptions struct {
	Logger          Logger           // Logger for logging events and errors.
	LogLevel        LogLevel         // Level of logging to use.
	LogFilePath     string           // File path for logging if file logging is enabled.
	MIDIEventFilter *MIDIEventFilter // Optional filter for MIDI message types to deliver.
	CoreMIDIConfig  *CoreMIDIConfig  // Configuration specific to CoreMIDI.
	Diagnostics     Diagnostics      // Counter sink; a private one is created when nil.

	Driver       string // "", "coremidi", "winmm", "rtmidi" or "loop".
	InputDevice  string // Name of the input endpoint.
	OutputDevice string // Name of the output endpoint; empty disables feedback.
	EventBuffer  int    // Capacity of the receive and transmit queues of the port.

	HostAddress        string        // host:port of the application socket.
	HostReceiveAddress string        // Optional separate socket for host notifications.
	QueueSize          int           // Capacity of the host send queue.
	Backoff            BackoffConfig
	AckTimeout         time.Duration // When set, one command is in flight until the host answers or this elapses.

	ProfilePath string           // Profile activated at start.
	ProfileDir  string           // Directory searched by host SwitchProfile requests.
	Persister   ProfilePersister // Defaults to the YAML persister.

	Acceleration AccelerationConfig
	Resolution   float64 // Relative steps per full parameter range.

	DeviceRefresh   time.Duration // Retry interval for missing endpoints.
	ShutdownTimeout time.Duration // Bounded join timeout for Stop.
	StatusAddress   string        // Optional listen address of the status endpoint.
}

// Option is a function that modifies BridgeOptions.
type Option func(*BridgeOptions)

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(opts *BridgeOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level.
func WithLogLevel(level LogLevel) Option {
	return func(opts *BridgeOptions) {
		opts.LogLevel = level
	}
}

// WithLogFile routes the default logger to a rotated file.
func WithLogFile(path string) Option {
	return func(opts *BridgeOptions) {
		opts.LogFilePath = path
	}
}

// WithMIDIEventFilter sets the MIDI event filter.
func WithMIDIEventFilter(filter MIDIEventFilter) Option {
	return func(opts *BridgeOptions) {
		opts.MIDIEventFilter = &filter
	}
}

// WithCoreMIDIConfig sets the CoreMIDI configuration.
func WithCoreMIDIConfig(config CoreMIDIConfig) Option {
	return func(opts *BridgeOptions) {
		opts.CoreMIDIConfig = &config
	}
}

// WithDiagnostics sets the counter sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(opts *BridgeOptions) {
		opts.Diagnostics = d
	}
}

// WithDriver forces a MIDI driver instead of the OS default.
func WithDriver(name string) Option {
	return func(opts *BridgeOptions) {
		opts.Driver = name
	}
}

// WithDevices names the input and output endpoints.
func WithDevices(input, output string) Option {
	return func(opts *BridgeOptions) {
		opts.InputDevice = input
		opts.OutputDevice = output
	}
}

// WithHostAddress sets the host socket. An optional second address splits notifications onto their own socket.
func WithHostAddress(addr string, receiveAddr ...string) Option {
	return func(opts *BridgeOptions) {
		opts.HostAddress = addr
		if len(receiveAddr) > 0 {
			opts.HostReceiveAddress = receiveAddr[0]
		}
	}
}

// WithQueueSize sets the host send queue capacity.
func WithQueueSize(n int) Option {
	return func(opts *BridgeOptions) {
		opts.QueueSize = n
	}
}

// WithBackoff sets the reconnect delay shape.
func WithBackoff(cfg BackoffConfig) Option {
	return func(opts *BridgeOptions) {
		opts.Backoff = cfg
	}
}

// WithAckPacing keeps one command in flight and sends the next only after the host
// answers or timeout elapses. Zero sends as fast as the socket accepts.
func WithAckPacing(timeout time.Duration) Option {
	return func(opts *BridgeOptions) {
		opts.AckTimeout = timeout
	}
}

// WithProfile sets the profile activated at start and the directory used for host profile switches.
func WithProfile(path, dir string) Option {
	return func(opts *BridgeOptions) {
		opts.ProfilePath = path
		opts.ProfileDir = dir
	}
}

// WithPersister replaces the profile persistence collaborator.
func WithPersister(p ProfilePersister) Option {
	return func(opts *BridgeOptions) {
		opts.Persister = p
	}
}

// WithAcceleration sets the relative encoder acceleration curve.
func WithAcceleration(cfg AccelerationConfig) Option {
	return func(opts *BridgeOptions) {
		opts.Acceleration = cfg
	}
}

// WithResolution sets how many relative steps span the full parameter range.
func WithResolution(steps float64) Option {
	return func(opts *BridgeOptions) {
		opts.Resolution = steps
	}
}

// WithStatusAddress enables the status endpoint on addr.
func WithStatusAddress(addr string) Option {
	return func(opts *BridgeOptions) {
		opts.StatusAddress = addr
	}
}

// WithShutdownTimeout bounds how long Stop waits for workers.
func WithShutdownTimeout(d time.Duration) Option {
	return func(opts *BridgeOptions) {
		opts.ShutdownTimeout = d
	}
}

// WithDeviceRefresh sets the retry interval for missing MIDI endpoints.
func WithDeviceRefresh(d time.Duration) Option {
	return func(opts *BridgeOptions) {
		opts.DeviceRefresh = d
	}
}
