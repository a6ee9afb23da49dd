package contracts

// DeviceInfo contains information about a MIDI endpoint.
type DeviceInfo struct {
	Name         string // Endpoint name, used to bind a port.
	Manufacturer string // Device manufacturer.
	EntityName   string // Name of the entity to which the endpoint belongs.
	Input        bool   // Endpoint can be opened for reception.
	Output       bool   // Endpoint can be opened for transmission.
}
