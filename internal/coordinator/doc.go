/*
Package coordinator assembles the arraycache components for one process.

New reads a config.Configuration and builds the spill store (a directory or an
S3 prefix), the spill codec, the memory ceiling, the metrics collector and the
SpillingCache itself:

	coord, err := coordinator.New(cfg, coordinator.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Close()

	id, err := coord.Cache().Register(samples)

Start launches a ticker that calls CheckPressure every
cache.pressure_interval. The cache also checks pressure on every mutation;
the ticker picks up changes in the memory ceiling between mutations. Failures
in the background loop are logged at warn level and counted in Stats; they are
never returned.

NewResultCache and NewSlotPool build the generic caches from the same
configuration and attach them to the coordinator's metrics.
*/
package coordinator
