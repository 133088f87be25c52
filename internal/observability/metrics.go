// Package observability exposes the simulation's Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trafficsim.dev/internal/sim/world"
)

// Collector bundles the server's metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	TickDuration  prometheus.Histogram
	Cars          prometheus.Gauge
	Roads         prometheus.Gauge
	Intersections prometheus.Gauge

	CarsSpawned   prometheus.Counter
	CarsCrashed   prometheus.Counter
	CarsRemoved   prometheus.Counter
	LightGrants   prometheus.Counter
	CarFaults     prometheus.Counter
	RouteSearches *prometheus.CounterVec

	Clients  prometheus.Gauge
	Commands *prometheus.CounterVec
}

// NewCollector registers the metrics against reg, defaulting to the global registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "traffic_tick_duration_seconds",
		Help:    "Wall time spent in one simulation step.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.04, 0.1},
	}), "traffic_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	gauges := []struct {
		dst        *prometheus.Gauge
		name, help string
	}{
		{&c.Cars, "traffic_cars", "Live cars after the last tick."},
		{&c.Roads, "traffic_roads", "Roads in the network."},
		{&c.Intersections, "traffic_intersections", "Intersections in the network."},
		{&c.Clients, "traffic_ws_clients", "Connected websocket clients."},
	}
	for _, g := range gauges {
		*g.dst, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: g.name, Help: g.help}), g.name)
		if err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst        *prometheus.Counter
		name, help string
	}{
		{&c.CarsSpawned, "traffic_cars_spawned_total", "Autonomous cars placed by the spawner."},
		{&c.CarsCrashed, "traffic_cars_crashed_total", "Cars that crashed."},
		{&c.CarsRemoved, "traffic_cars_removed_total", "Cars removed at the end of a tick."},
		{&c.LightGrants, "traffic_light_grants_total", "Green phases granted by the intersection scheduler."},
		{&c.CarFaults, "traffic_car_faults_total", "Car updates that failed and dropped the car's AI."},
	}
	for _, ct := range counters {
		*ct.dst, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: ct.name, Help: ct.help}), ct.name)
		if err != nil {
			return nil, err
		}
	}

	c.RouteSearches, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_route_searches_total",
		Help: "Route searches run by autonomous cars, labeled by outcome.",
	}, []string{"outcome"}), "traffic_route_searches_total")
	if err != nil {
		return nil, err
	}

	c.Commands, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "traffic_commands_total",
		Help: "Client commands handled, labeled by kind and outcome.",
	}, []string{"kind", "outcome"}), "traffic_commands_total")
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records one step of the world loop.
func (c *Collector) ObserveTick(st world.TickStats) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(st.Duration.Seconds())
	c.Cars.Set(float64(st.Cars))
	c.Roads.Set(float64(st.Roads))
	c.Intersections.Set(float64(st.Intersections))
	c.CarsSpawned.Add(float64(st.Spawned))
	c.CarsCrashed.Add(float64(st.Crashed))
	c.CarsRemoved.Add(float64(st.Removed))
	c.LightGrants.Add(float64(st.Grants))
	c.CarFaults.Add(float64(st.Faults))
	if found := st.RouteSearches - st.RouteFailures; found > 0 {
		c.RouteSearches.WithLabelValues("found").Add(float64(found))
	}
	if st.RouteFailures > 0 {
		c.RouteSearches.WithLabelValues("not_found").Add(float64(st.RouteFailures))
	}
}

func (c *Collector) ObserveCommand(kind, outcome string) {
	if c == nil {
		return
	}
	c.Commands.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) SetClients(n int) {
	if c == nil {
		return
	}
	c.Clients.Set(float64(n))
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
