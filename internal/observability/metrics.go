package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TCPConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_tcp_connections_total",
		Help: "Accepted TCP connections",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_tcp_connections_active",
		Help: "Open TCP connections",
	})
	ConnectionRoles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_connection_roles_total",
		Help: "Connections classified, by role",
	}, []string{"role"})
	Envelopes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_envelopes_total",
		Help: "Decoded items, by classification",
	}, []string{"kind"})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_decode_errors_total",
		Help: "Items dropped because they were not valid CBOR",
	})
	Rejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rejects_total",
		Help: "Items dropped after decoding, by reason",
	}, []string{"reason"})
	RecordsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_records_stored_total",
		Help: "Documents written, by collection",
	}, []string{"collection"})
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_store_errors_total",
		Help: "Failed store inserts",
	})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_sink_errors_total",
		Help: "Failed cache or event writes after a stored fix",
	}, []string{"sink"})
	CommandsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_queued_total",
		Help: "Commands placed in the mailbox",
	})
	CommandsReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_replaced_total",
		Help: "Pending commands overwritten before delivery",
	})
	CommandsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_commands_delivered_total",
		Help: "Commands written to a device connection",
	})
	DeliveryErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_delivery_errors_total",
		Help: "Failed command writes, command left pending",
	})
	PendingCommand = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pending_command",
		Help: "1 while a command waits in the mailbox",
	})
	IngestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_ingest_latency_seconds",
		Help:    "Time spent storing one fix or batch",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveIngestLatency(start time.Time) {
	IngestLatency.Observe(time.Since(start).Seconds())
}

// StartMetricsServer serves /metrics and /healthz until ctx is cancelled.
func StartMetricsServer(ctx context.Context, port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
