package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type eventKey struct {
	kind    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu      sync.Mutex
	events  map[eventKey]uint64
	errors  map[string]uint64
	latency map[string]*histogram
}

var eventCollector = &collector{
	events:  make(map[eventKey]uint64),
	errors:  make(map[string]uint64),
	latency: make(map[string]*histogram),
}

// ObserveEvent records metrics about one processed inbound event.
// outcome is "ok" for a normally handled event, otherwise the error code.
func ObserveEvent(kind, outcome string, duration time.Duration) {
	eventCollector.observe(kind, outcome, duration)
}

func (c *collector) observe(kind, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events[eventKey{kind: kind, outcome: outcome}]++
	if outcome != "ok" {
		c.errors[kind]++
	}

	hist := c.latency[kind]
	if hist == nil {
		hist = newHistogram()
		c.latency[kind] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	// 事件处理会等待链上回执，桶上界需要覆盖到分钟级。
	buckets := []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, eventCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type eventMetric struct {
		eventKey
		value uint64
	}
	type errorMetric struct {
		kind  string
		value uint64
	}
	type latencyMetric struct {
		kind    string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	events := make([]eventMetric, 0, len(c.events))
	for key, value := range c.events {
		events = append(events, eventMetric{eventKey: key, value: value})
	}
	errs := make([]errorMetric, 0, len(c.errors))
	for kind, value := range c.errors {
		errs = append(errs, errorMetric{kind: kind, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for kind, hist := range c.latency {
		lats = append(lats, latencyMetric{
			kind:    kind,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].kind == events[j].kind {
			return events[i].outcome < events[j].outcome
		}
		return events[i].kind < events[j].kind
	})
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].kind < errs[j].kind
	})
	sort.Slice(lats, func(i, j int) bool {
		return lats[i].kind < lats[j].kind
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP tradebot_events_total Total number of inbound events processed.\n")
	builder.WriteString("# TYPE tradebot_events_total counter\n")
	for _, metric := range events {
		builder.WriteString(fmt.Sprintf("tradebot_events_total{kind=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.kind), escape(metric.outcome), metric.value))
	}

	builder.WriteString("# HELP tradebot_event_errors_total Total number of events that ended in a failure reply.\n")
	builder.WriteString("# TYPE tradebot_event_errors_total counter\n")
	for _, metric := range errs {
		builder.WriteString(fmt.Sprintf("tradebot_event_errors_total{kind=\"%s\"} %d\n",
			escape(metric.kind), metric.value))
	}

	builder.WriteString("# HELP tradebot_event_duration_seconds Event handling duration in seconds.\n")
	builder.WriteString("# TYPE tradebot_event_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("tradebot_event_duration_seconds_bucket{kind=\"%s\",le=\"%s\"} %d\n",
				escape(metric.kind), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("tradebot_event_duration_seconds_bucket{kind=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.kind), metric.count))
		builder.WriteString(fmt.Sprintf("tradebot_event_duration_seconds_sum{kind=\"%s\"} %s\n",
			escape(metric.kind), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("tradebot_event_duration_seconds_count{kind=\"%s\"} %d\n",
			escape(metric.kind), metric.count))
	}

	return builder.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
