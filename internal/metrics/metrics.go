// Package metrics exposes prometheus counters for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

const namespace = "simpleimage"

// Metrics holds the collectors registered by New.
type Metrics struct {
	Stored              *prometheus.CounterVec
	StoredBytes         *prometheus.CounterVec
	AttachmentsCreated  *prometheus.CounterVec
	AttachmentsDeleted  *prometheus.CounterVec
	Reclaimed           *prometheus.CounterVec
	Variants            *prometheus.CounterVec
	Errors              *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Stored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_stored_total",
			Help:      "Uploads placed into storage.",
		}, []string{"owner_type", "deduplicated"}),
		StoredBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stored_bytes_total",
			Help:      "Bytes of uploads placed into storage.",
		}, []string{"owner_type"}),
		AttachmentsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_created_total",
			Help:      "Attachment rows created.",
		}, []string{"owner_type"}),
		AttachmentsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachments_deleted_total",
			Help:      "Attachment rows deleted.",
		}, []string{"owner_type"}),
		Reclaimed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_total",
			Help:      "Reclamation decisions; result is removed or kept.",
		}, []string{"owner_type", "result"}),
		Variants: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_total",
			Help:      "Variants ensured; result is generated or cached.",
		}, []string{"owner_type", "preset", "result"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Isolated item failures by operation.",
		}, []string{"operation"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Hooks returns lifecycle hooks feeding the counters.
func (m *Metrics) Hooks() *simpleimage.Hooks {
	return &simpleimage.Hooks{
		AfterStore: []simpleimage.StoreHook{
			func(_ *simpleimage.HookContext, ownerType string, file *simpleimage.StoredFile) {
				m.Stored.WithLabelValues(ownerType, strconv.FormatBool(file.Deduplicated)).Inc()
				if !file.Deduplicated {
					m.StoredBytes.WithLabelValues(ownerType).Add(float64(file.SizeBytes))
				}
			},
		},
		AfterAttachmentCreate: []simpleimage.AttachmentHook{
			func(_ *simpleimage.HookContext, att *simpleimage.Attachment) {
				m.AttachmentsCreated.WithLabelValues(att.OwnerType).Inc()
			},
		},
		AfterAttachmentDelete: []simpleimage.AttachmentHook{
			func(_ *simpleimage.HookContext, att *simpleimage.Attachment) {
				m.AttachmentsDeleted.WithLabelValues(att.OwnerType).Inc()
			},
		},
		AfterReclaim: []simpleimage.ReclaimHook{
			func(_ *simpleimage.HookContext, att *simpleimage.Attachment, removed bool) {
				result := "kept"
				if removed {
					result = "removed"
				}
				m.Reclaimed.WithLabelValues(att.OwnerType, result).Inc()
			},
		},
		AfterVariant: []simpleimage.VariantHook{
			func(_ *simpleimage.HookContext, att *simpleimage.Attachment, preset string, generated bool) {
				result := "cached"
				if generated {
					result = "generated"
				}
				m.Variants.WithLabelValues(att.OwnerType, preset, result).Inc()
			},
		},
		OnError: []simpleimage.ErrorHook{
			func(_ *simpleimage.HookContext, operation string, _ error) {
				m.Errors.WithLabelValues(operation).Inc()
			},
		},
	}
}

// Middleware records request counts and latency labelled with the chi
// route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
