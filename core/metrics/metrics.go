package metrics

// Recorder receives the operational counters of the fan-out engine. The
// Prometheus implementation lives in infra/metrics.
type Recorder interface {
	// IngressMessage counts an inbound message by kind: full, field or location.
	IngressMessage(kind string)
	// IngressError counts a dropped inbound message by reason.
	IngressError(reason string)
	// Emission counts one snapshot fan-out for a car.
	Emission(source string)
	// ActiveEmitters sets the number of cars with a running emission task.
	ActiveEmitters(n int)
	// Command counts a command attempt by action and result code.
	Command(action, result string)
	// GatewayClients sets the number of connected real-time clients.
	GatewayClients(n int)
}

// NopRecorder discards every measurement.
type NopRecorder struct{}

func (NopRecorder) IngressMessage(string)  {}
func (NopRecorder) IngressError(string)    {}
func (NopRecorder) Emission(string)        {}
func (NopRecorder) ActiveEmitters(int)     {}
func (NopRecorder) Command(string, string) {}
func (NopRecorder) GatewayClients(int)     {}

// OrNop returns r, or a NopRecorder when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return NopRecorder{}
	}
	return r
}
