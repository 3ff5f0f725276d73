// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package observability

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusTracer exports span durations as a histogram and every recorded
// metric as a counter. Collectors for recorded metrics are created lazily,
// one per (metric name, label key set).
type PrometheusTracer struct {
	registry  prometheus.Registerer
	namespace string
	logger    *zap.Logger

	spanDuration *prometheus.HistogramVec

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
}

// NewPrometheusTracer registers its collectors on reg.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewPrometheusTracer(reg prometheus.Registerer, namespace string, logger *zap.Logger) (*PrometheusTracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if namespace == "" {
		namespace = "weft"
	}
	spanDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "span_duration_seconds",
		Help:      "Duration of traced operations.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"span", "status"})
	if err := reg.Register(spanDuration); err != nil {
		return nil, err
	}
	return &PrometheusTracer{
		registry:     reg,
		namespace:    namespace,
		logger:       logger,
		spanDuration: spanDuration,
		counters:     make(map[string]*prometheus.CounterVec),
	}, nil
}

// StartSpan creates a span linked to any parent in ctx.
func (p *PrometheusTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts)
	return ContextWithSpan(ctx, span), span
}

// EndSpan observes the span duration.
func (p *PrometheusTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	finishSpan(span)
	span.mu.Lock()
	status := span.Status.Code.String()
	d := span.Duration
	span.mu.Unlock()
	p.spanDuration.WithLabelValues(span.Name, status).Observe(d.Seconds())
}

// RecordMetric adds value to the counter named after name.
// Negative values are dropped since counters only go up.
func (p *PrometheusTracer) RecordMetric(name string, value float64, labels map[string]string) {
	if value < 0 {
		return
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vec, err := p.counterFor(name, keys)
	if err != nil {
		p.logger.Debug("dropping metric", zap.String("metric", name), zap.Error(err))
		return
	}
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = labels[k]
	}
	vec.WithLabelValues(values...).Add(value)
}

func (p *PrometheusTracer) counterFor(name string, keys []string) (*prometheus.CounterVec, error) {
	labelNames := make([]string, len(keys))
	for i, k := range keys {
		labelNames[i] = sanitizeMetricName(k)
	}
	id := name + "|" + strings.Join(labelNames, ",")

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := p.counters[id]; ok {
		return vec, nil
	}

	metricName := sanitizeMetricName(name)
	if !strings.HasSuffix(metricName, "_total") {
		metricName += "_total"
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      metricName,
		Help:      "Recorded " + name + ".",
	}, labelNames)
	if err := p.registry.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError
		if ok := asAlreadyRegistered(err, &already); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				p.counters[id] = existing
				return existing, nil
			}
		}
		return nil, err
	}
	p.counters[id] = vec
	return vec, nil
}

// RecordEvent is not exported; events live on spans.
func (p *PrometheusTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

// Flush is a no-op; Prometheus scrapes collectors on demand.
func (p *PrometheusTracer) Flush(ctx context.Context) error {
	return nil
}

var _ Tracer = (*PrometheusTracer)(nil)

func asAlreadyRegistered(err error, target *prometheus.AlreadyRegisteredError) bool {
	are, ok := err.(prometheus.AlreadyRegisteredError)
	if ok {
		*target = are
	}
	return ok
}

// sanitizeMetricName maps dotted weft names onto the Prometheus charset.
func sanitizeMetricName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
