/*
Package metrics exports arraycache events to Prometheus.

A Collector implements the cache, slot pool and result cache observer
interfaces from pkg/types, so wiring it is a matter of passing it where an
observer is accepted:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "arraycache",
	}, logger)
	if err != nil {
		return err
	}
	collector.SetReporter(spillingCache)

	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(ctx)

The collector uses its own registry rather than the global default one.

# Endpoints

	/metrics      Prometheus exposition (OpenMetrics when negotiated)
	/health       static liveness document
	/debug/cache  text summary: the attached Reporter followed by the
	              per-operation latency table

# Metrics

All names carry the configured namespace and subsystem.

	spills_total{write}             spills, split by whether the object was rewritten
	spilled_bytes_total             bytes released by spilling
	spill_failures_total            failed spill writes
	reloads_total                   reloads from the spill store
	reloaded_bytes_total            bytes reloaded
	resident_bytes                  current resident payload bytes
	budget_bytes                    current budget
	heap_alloc_bytes                heap sample from the coordinator
	slot_acquires_total{result}     slot pool hits and misses
	slot_flushes_total{status}      dirty slot write-backs
	result_lookups_total{result}    keyed result cache hits and misses
	pressure_checks_total{status}   background pressure checks
	pressure_check_duration_seconds histogram of pressure check time

A disabled collector accepts every event and records nothing.
*/
package metrics
