/*
Package config provides configuration management for arraycache.

Configuration is layered: compiled-in defaults (NewDefault), then a YAML file
(LoadFromFile), then ARRAYCACHE_* environment variables (LoadFromEnv).
Validate should be called once all sources are applied.

# Example

	global:
	  log_level: INFO
	  log_format: text
	cache:
	  memory_budget_fraction: 0.25
	  max_memory: ""            # empty: GOMEMLIMIT, then physical memory
	  directory: /var/tmp/arraycache
	  pressure_interval: 5s
	  compression: true
	  spill_backend: file       # or s3
	result_cache:
	  enabled: true
	  lower_threshold: 1000
	  upper_threshold: 1000000
	  max_keys: 4
	  max_misses: 3
	slot_pool:
	  slots: 10
	  tuple_dim: 3
	monitoring:
	  metrics:
	    enabled: true
	    port: 9090

# Environment Variables

	ARRAYCACHE_LOG_LEVEL               global.log_level
	ARRAYCACHE_LOG_FILE                global.log_file
	ARRAYCACHE_LOG_FORMAT              global.log_format
	ARRAYCACHE_MEMORY_BUDGET_FRACTION  cache.memory_budget_fraction
	ARRAYCACHE_MAX_MEMORY              cache.max_memory
	ARRAYCACHE_CACHE_DIR               cache.directory
	ARRAYCACHE_PRESSURE_INTERVAL       cache.pressure_interval
	ARRAYCACHE_COMPRESSION             cache.compression
	ARRAYCACHE_SPILL_BACKEND           cache.spill_backend
	ARRAYCACHE_S3_BUCKET               cache.s3.bucket
	ARRAYCACHE_S3_PREFIX               cache.s3.prefix
	ARRAYCACHE_S3_REGION               cache.s3.region
	ARRAYCACHE_S3_ENDPOINT             cache.s3.endpoint
	ARRAYCACHE_RESULT_CACHE_ENABLED    result_cache.enabled
	ARRAYCACHE_SLOT_POOL_SLOTS         slot_pool.slots
	ARRAYCACHE_METRICS_ENABLED         monitoring.metrics.enabled
	ARRAYCACHE_METRICS_PORT            monitoring.metrics.port

Malformed numeric or duration values fail LoadFromEnv with CONFIG_LOAD.
*/
package config
