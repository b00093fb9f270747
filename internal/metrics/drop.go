package metrics

import "liqflow/logger"

// DropMetric identifies the metric name emitted when messages or events are dropped.
type DropMetric string

const (
	// DropMetricLiquidationRaw records raw stream messages dropped before normalisation.
	DropMetricLiquidationRaw DropMetric = "liquidation_messages_dropped"
	// DropMetricParse records payloads dropped because they could not be parsed.
	DropMetricParse DropMetric = "liquidation_parse_dropped"
	// DropMetricDuplicate records events dropped by the dedup filter.
	DropMetricDuplicate DropMetric = "liquidation_duplicates_dropped"
	// DropMetricWriterQueue records durable-writer batches dropped on queue overflow.
	DropMetricWriterQueue DropMetric = "writer_batches_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped message or event.
// The metric value is always incremented by one so callers should invoke this
// helper for each drop. Optional metadata (exchange, symbol, stage) is attached
// to the metric fields when provided which enables downstream aggregation per
// exchange and pipeline stage.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, symbol, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "drops", string(metric), 1, "counter", fields)
}
