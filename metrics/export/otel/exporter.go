package otel

import (
	"context"
	"errors"
	"fmt"

	phlow "github.com/phlow-dev/phlow"
	"github.com/phlow-dev/phlow/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() phlow.MetricsSnapshot
	AuditPending() int
	AuditFlushFailures() uint64
}

type observedCounter struct {
	id         phlow.MetricID
	instrument metric.Int64ObservableCounter
}

type OTelExporter struct {
	source        metricsSource
	registration  metric.Registration
	counters      []observedCounter
	auditPending  metric.Int64ObservableGauge
	auditFailures metric.Int64ObservableCounter
}

func NewOTelExporter(meter metric.Meter, engine *phlow.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:   source,
		counters: make([]observedCounter, 0, len(internaldefs.CounterDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+2)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	auditPending, err := meter.Int64ObservableGauge(
		"phlow_audit_pending",
		metric.WithDescription("Audit events buffered and not yet delivered to the sink."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit pending gauge: %w", err)
	}
	exporter.auditPending = auditPending
	observables = append(observables, auditPending)

	auditFailures, err := meter.Int64ObservableCounter(
		"phlow_audit_flush_failures_total",
		metric.WithDescription("Audit flush cycles that left events queued for retry."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit flush failures counter: %w", err)
	}
	exporter.auditFailures = auditFailures
	observables = append(observables, auditFailures)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditPending, int64(exporter.source.AuditPending()))
		observer.ObserveInt64(exporter.auditFailures, int64(exporter.source.AuditFlushFailures()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
