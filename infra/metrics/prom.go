package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/cariot/core/metrics"
)

// PromRecorder records fan-out engine counters in Prometheus metrics.
type PromRecorder struct {
	ingress        *prometheus.CounterVec
	ingressErrors  *prometheus.CounterVec
	emissions      *prometheus.CounterVec
	commands       *prometheus.CounterVec
	activeEmitters prometheus.Gauge
	gatewayClients prometheus.Gauge
}

var _ coremetrics.Recorder = (*PromRecorder)(nil)

// NewPromRecorder registers the engine metrics on the default Prometheus registerer.
// The metrics endpoint is served separately, see StartPromServer.
func NewPromRecorder() (*PromRecorder, error) {
	return NewPromRecorderWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromRecorderWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered under the same name are reused.
func NewPromRecorderWithRegistry(reg prometheus.Registerer) (*PromRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PromRecorder{
		ingress: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cariot_ingress_messages_total",
			Help: "Inbound telemetry messages applied, by kind",
		}, []string{"kind"}),
		ingressErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cariot_ingress_errors_total",
			Help: "Inbound telemetry messages dropped, by reason",
		}, []string{"reason"}),
		emissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cariot_emissions_total",
			Help: "Snapshots fanned out to clients, by source",
		}, []string{"source"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cariot_commands_total",
			Help: "Command publish attempts, by action and result",
		}, []string{"action", "result"}),
		activeEmitters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cariot_active_emitters",
			Help: "Cars with a running periodic emission task",
		}),
		gatewayClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cariot_gateway_clients",
			Help: "Connected real-time clients",
		}),
	}

	var err error
	if r.ingress, err = registerVec(reg, r.ingress); err != nil {
		return nil, err
	}
	if r.ingressErrors, err = registerVec(reg, r.ingressErrors); err != nil {
		return nil, err
	}
	if r.emissions, err = registerVec(reg, r.emissions); err != nil {
		return nil, err
	}
	if r.commands, err = registerVec(reg, r.commands); err != nil {
		return nil, err
	}
	if r.activeEmitters, err = registerGauge(reg, r.activeEmitters); err != nil {
		return nil, err
	}
	if r.gatewayClients, err = registerGauge(reg, r.gatewayClients); err != nil {
		return nil, err
	}
	return r, nil
}

func registerVec(reg prometheus.Registerer, c *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return g, nil
}

func (r *PromRecorder) IngressMessage(kind string)    { r.ingress.WithLabelValues(kind).Inc() }
func (r *PromRecorder) IngressError(reason string)    { r.ingressErrors.WithLabelValues(reason).Inc() }
func (r *PromRecorder) Emission(source string)        { r.emissions.WithLabelValues(source).Inc() }
func (r *PromRecorder) ActiveEmitters(n int)          { r.activeEmitters.Set(float64(n)) }
func (r *PromRecorder) Command(action, result string) { r.commands.WithLabelValues(action, result).Inc() }
func (r *PromRecorder) GatewayClients(n int)          { r.gatewayClients.Set(float64(n)) }
