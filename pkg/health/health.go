// Package health runs background liveness and readiness probes and serves
// them on /livez and /readyz.
//
// A check flips to failing only after FailureThreshold consecutive errors and
// back to passing after SuccessThreshold consecutive successes, so a single
// slow database ping does not pull the API out of the load balancer.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Kind selects the probe a check contributes to.
type Kind uint8

const (
	// Liveness checks decide whether the process should be restarted.
	Liveness Kind = iota
	// Readiness checks decide whether the process should receive traffic.
	Readiness
)

func (k Kind) String() string {
	if k == Readiness {
		return "readiness"
	}
	return "liveness"
}

// Check describes a registered probe.
type Check struct {
	Name    string
	Kind    Kind
	Timeout time.Duration
	Func    CheckFunc
	// FailureThreshold defaults to 3.
	FailureThreshold int
	// SuccessThreshold defaults to 1.
	SuccessThreshold int
}

// Result is the last known state of one check.
type Result struct {
	Name      string
	Healthy   bool
	Error     string
	CheckedAt time.Time
}

// Report is the aggregated state of a probe.
type Report struct {
	Healthy bool
	Checks  []Result
}

// notReady is reported by the readiness probe until SetReady(true).
const notReady = "startup"

type probe struct {
	Check

	healthy atomic.Bool
	lastErr atomic.Pointer[error]
	lastRun atomic.Int64

	// fails and oks are owned by the goroutine calling run.
	fails, oks int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	err := p.Func(ctx)
	p.lastErr.Store(&err)
	p.lastRun.Store(time.Now().UnixNano())

	if err != nil {
		p.oks = 0
		p.fails++
		if p.fails >= p.FailureThreshold {
			p.healthy.Store(false)
		}
		return
	}
	p.fails = 0
	p.oks++
	if p.oks >= p.SuccessThreshold {
		p.healthy.Store(true)
	}
}

func (p *probe) result() Result {
	r := Result{Name: p.Name, Healthy: p.healthy.Load()}
	if ns := p.lastRun.Load(); ns != 0 {
		r.CheckedAt = time.Unix(0, ns)
	}
	if !r.Healthy {
		r.Error = "check is unhealthy"
		if e := p.lastErr.Load(); e != nil && *e != nil {
			r.Error = (*e).Error()
		}
	}
	return r
}

// Health owns the registered probes. The zero value is not usable; call New.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	probes []*probe
	cancel context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// Register adds a check. Checks start out healthy and must be registered
// before Start.
func (h *Health) Register(c Check) {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	p := &probe{Check: c}
	p.healthy.Store(true)

	h.mu.Lock()
	h.probes = append(h.probes, p)
	h.mu.Unlock()
}

func (h *Health) snapshot() []*probe {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*probe(nil), h.probes...)
}

// Start runs every check once per interval, each in its own goroutine,
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	for _, p := range h.snapshot() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			p.run(ctx)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.run(ctx)
				}
			}
		}()
	}
}

// Stop cancels the background checks. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady marks the service ready once wiring is done, and not ready again
// when shutdown begins.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Report returns the state of every check of the given kind.
func (h *Health) Report(kind Kind) Report {
	rep := Report{Healthy: true}
	if kind == Readiness && !h.ready.Load() {
		rep.Healthy = false
		rep.Checks = append(rep.Checks, Result{Name: notReady, Error: "service is not ready"})
	}
	for _, p := range h.snapshot() {
		if p.Kind != kind {
			continue
		}
		r := p.result()
		rep.Healthy = rep.Healthy && r.Healthy
		rep.Checks = append(rep.Checks, r)
	}
	return rep
}

// IsReady reports whether the readiness probe passes.
func (h *Health) IsReady() bool {
	return h.Report(Readiness).Healthy
}

// RegisterMetrics exports the state of every check as the
// storefront.health.check gauge (1 healthy, 0 failing).
func (h *Health) RegisterMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter("storefront/health")
	gauge, err := meter.Int64ObservableGauge("storefront.health.check",
		metric.WithDescription("Health check state, 1 when passing"),
	)
	if err != nil {
		return errors.Wrap(err, "create health gauge")
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, p := range h.snapshot() {
			var v int64
			if p.healthy.Load() {
				v = 1
			}
			o.ObserveInt64(gauge, v, metric.WithAttributes(
				attribute.String("check", p.Name),
				attribute.String("kind", p.Kind.String()),
			))
		}
		return nil
	}, gauge)
	if err != nil {
		return errors.Wrap(err, "register health callback")
	}
	return nil
}

// Routes mounts /livez and /readyz on r.
func (h *Health) Routes(r chi.Router) {
	r.Get("/livez", h.serve(Liveness))
	r.Get("/readyz", h.serve(Readiness))
}

// serve writes 200 {"status":"ok",...} or 503 {"status":"unhealthy",...};
// every check is listed with its own status.
func (h *Health) serve(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		rep := h.Report(kind)

		status, label := http.StatusOK, "ok"
		if !rep.Healthy {
			status, label = http.StatusServiceUnavailable, "unhealthy"
		}

		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("status", func(e *jx.Encoder) { e.Str(label) })
			e.Field("checks", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for _, r := range rep.Checks {
						e.Obj(func(e *jx.Encoder) {
							e.Field("name", func(e *jx.Encoder) { e.Str(r.Name) })
							e.Field("healthy", func(e *jx.Encoder) { e.Bool(r.Healthy) })
							if r.Error != "" {
								e.Field("error", func(e *jx.Encoder) { e.Str(r.Error) })
							}
						})
					}
				})
			})
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(e.Bytes())
	}
}
