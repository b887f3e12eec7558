package postgres

// SQL for the raw event store and the aggregate bucket store.
//
// Grouped event queries are templates: the dimension column (access_key_id
// or user_id) is interpolated via dimensionColumn, which only ever returns
// one of the two known identifiers.

const (
	// querySaveEvent inserts a usage event with request idempotency.
	// ON CONFLICT DO NOTHING returns no rows (sql.ErrNoRows) for duplicates.
	querySaveEvent = `
		INSERT INTO usage_events (
			request_id, access_key_id, user_id, model, feature, endpoint, stop_reason,
			input_tokens, cache_creation_tokens, cache_read_tokens, output_tokens,
			occurred_at, ingested_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING ingest_seq
	`

	// queryGroupedHourlyTotals produces one summary row per distinct
	// dimension value and clock hour inside [from, to).
	queryGroupedHourlyTotals = `
		SELECT
			%[1]s,
			date_trunc('hour', occurred_at) AS hour_start,
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COUNT(*)
		FROM usage_events
		WHERE occurred_at >= $1
		  AND occurred_at < $2
		GROUP BY %[1]s, date_trunc('hour', occurred_at)
		ORDER BY %[1]s ASC, hour_start ASC
	`

	// queryGroupedByOccurrence groups one dimension value's events by exact
	// occurrence timestamp. Rebuild path; bounds are inclusive.
	queryGroupedByOccurrence = `
		SELECT
			occurred_at,
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COUNT(*)
		FROM usage_events
		WHERE %s = $1
		  AND occurred_at >= $2
		  AND occurred_at <= $3
		GROUP BY occurred_at
		ORDER BY occurred_at ASC
	`

	// queryFilteredTotals is the real-time scan with full filter support.
	// Empty model/feature parameters disable the respective filter.
	queryFilteredTotals = `
		SELECT
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(cache_creation_tokens), 0),
			COALESCE(SUM(cache_read_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COUNT(*)
		FROM usage_events
		WHERE %s = $1
		  AND occurred_at >= $2
		  AND occurred_at <= $3
		  AND ($4 = '' OR model = $4)
		  AND ($5 = '' OR feature = $5)
	`
)

const (
	querySelectWatermarkForUpdate = `
		SELECT watermark
		FROM rollup_watermarks
		WHERE dimension_type = $1
		FOR UPDATE
	`

	queryInitWatermarkRow = `
		INSERT INTO rollup_watermarks (dimension_type, watermark, updated_at)
		VALUES ($1, to_timestamp(0), $2)
		ON CONFLICT (dimension_type) DO NOTHING
	`

	queryUpdateWatermark = `
		UPDATE rollup_watermarks
		SET watermark = $1, updated_at = $2
		WHERE dimension_type = $3
	`

	queryReadWatermark = `SELECT watermark FROM rollup_watermarks WHERE dimension_type = $1`

	// queryUpsertBucket is the atomic find-or-create-and-add. Concurrent
	// writers never lose updates: the increment happens inside the upsert,
	// not in a separate read-modify-write.
	queryUpsertBucket = `
		INSERT INTO usage_buckets (
			dimension_type, dimension_id, period_type, period_start, period_end,
			total_input_tokens, total_cache_creation_tokens, total_cache_read_tokens,
			total_output_tokens, total_requests, last_update_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (dimension_type, dimension_id, period_type, period_start)
		DO UPDATE SET
			total_input_tokens          = usage_buckets.total_input_tokens + EXCLUDED.total_input_tokens,
			total_cache_creation_tokens = usage_buckets.total_cache_creation_tokens + EXCLUDED.total_cache_creation_tokens,
			total_cache_read_tokens     = usage_buckets.total_cache_read_tokens + EXCLUDED.total_cache_read_tokens,
			total_output_tokens         = usage_buckets.total_output_tokens + EXCLUDED.total_output_tokens,
			total_requests              = usage_buckets.total_requests + EXCLUDED.total_requests,
			last_update_time            = EXCLUDED.last_update_time
	`

	// queryDeleteBucketsInRange removes buckets whose whole period lies
	// inside [start, end]. Rebuild path.
	queryDeleteBucketsInRange = `
		DELETE FROM usage_buckets
		WHERE dimension_type = $1
		  AND dimension_id = $2
		  AND period_start >= $3
		  AND period_end <= $4
	`

	queryDeleteExpiredBuckets = `DELETE FROM usage_buckets WHERE period_end < $1`

	bucketColumns = `
			dimension_type, dimension_id, period_type, period_start, period_end,
			total_input_tokens, total_cache_creation_tokens, total_cache_read_tokens,
			total_output_tokens, total_requests, last_update_time`

	queryRangeBuckets = `
		SELECT` + bucketColumns + `
		FROM usage_buckets
		WHERE dimension_type = $1
		  AND dimension_id = $2
		  AND period_type = $3
		  AND period_start >= $4
		  AND period_start < $5
		ORDER BY period_start ASC
	`

	queryFindByDimension = `
		SELECT` + bucketColumns + `
		FROM usage_buckets
		WHERE dimension_type = $1
		  AND dimension_id = $2
		  AND period_type = $3
		  AND ($4::timestamptz IS NULL OR period_start >= $4)
		  AND ($5::timestamptz IS NULL OR period_start <= $5)
		ORDER BY period_start DESC
	`

	queryTrendBuckets = `
		SELECT` + bucketColumns + `
		FROM usage_buckets
		WHERE dimension_type = $1
		  AND dimension_id = $2
		  AND period_type = $3
		  AND period_start >= $4
		  AND period_start <= $5
		ORDER BY period_start ASC
		LIMIT $6
	`

	// querySystemTotals sums access-key buckets only: every event is
	// attributed to exactly one access key, so this counts each event once.
	querySystemTotals = `
		SELECT
			COALESCE(SUM(total_input_tokens), 0),
			COALESCE(SUM(total_cache_creation_tokens), 0),
			COALESCE(SUM(total_cache_read_tokens), 0),
			COALESCE(SUM(total_output_tokens), 0),
			COALESCE(SUM(total_requests), 0)
		FROM usage_buckets
		WHERE dimension_type = 'ACCESS_KEY'
		  AND period_type = $1
		  AND period_start >= $2
		  AND period_start <= $3
	`
)
