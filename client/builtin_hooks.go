package client

import (
	"context"
	"sync/atomic"
)

// ============================================================================
// LoggingHook - Logs remote call details
// ============================================================================

// LoggingHook logs remote calls with configurable detail levels.
type LoggingHook struct {
	logger       Logger
	logCommands  bool // Log YQL text
	logDurations bool // Log execution times
}

// NewLoggingHook creates a new logging hook with the given logger.
func NewLoggingHook(logger Logger, logCommands, logDurations bool) *LoggingHook {
	return &LoggingHook{
		logger:       logger,
		logCommands:  logCommands,
		logDurations: logDurations,
	}
}

func (h *LoggingHook) Name() string {
	return "logging"
}

func (h *LoggingHook) Before(ctx context.Context, hookCtx *HookContext) error {
	if h.logCommands {
		h.logger.Debug("executing",
			String("operation", hookCtx.Operation),
			String("command", hookCtx.Command),
			String("type", hookCtx.CommandType),
			String("trace_id", hookCtx.TraceID))
	}
	return nil
}

func (h *LoggingHook) After(ctx context.Context, hookCtx *HookContext) error {
	fields := []Field{
		String("operation", hookCtx.Operation),
		String("command_type", hookCtx.CommandType),
		String("trace_id", hookCtx.TraceID),
		Int("attempts", hookCtx.Attempts),
	}

	if h.logDurations {
		fields = append(fields, Duration("duration", hookCtx.Duration))
	}

	if hookCtx.Error != nil {
		fields = append(fields, Error("error", hookCtx.Error))
		h.logger.Error("call failed", fields...)
	} else {
		h.logger.Debug("call completed", fields...)
	}

	return nil
}

// ============================================================================
// MetricsHook - Collects performance metrics
// ============================================================================

// MetricsHook collects remote call metrics using atomic counters.
type MetricsHook struct {
	TotalCalls        atomic.Uint64
	TotalDataQueries  atomic.Uint64
	TotalScanQueries  atomic.Uint64
	TotalSchemeQuery  atomic.Uint64
	TotalTransactions atomic.Uint64
	TotalErrors       atomic.Uint64
	TotalRetries      atomic.Uint64
	TotalDurationNs   atomic.Uint64
}

// NewMetricsHook creates a new metrics collection hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{}
}

func (h *MetricsHook) Name() string {
	return "metrics"
}

func (h *MetricsHook) Before(ctx context.Context, hookCtx *HookContext) error {
	return nil
}

func (h *MetricsHook) After(ctx context.Context, hookCtx *HookContext) error {
	h.TotalCalls.Add(1)
	h.TotalDurationNs.Add(uint64(hookCtx.Duration.Nanoseconds()))

	switch hookCtx.CommandType {
	case commandData:
		h.TotalDataQueries.Add(1)
	case commandScan:
		h.TotalScanQueries.Add(1)
	case commandScheme:
		h.TotalSchemeQuery.Add(1)
	case commandTransaction:
		h.TotalTransactions.Add(1)
	}

	if hookCtx.Attempts > 1 {
		h.TotalRetries.Add(uint64(hookCtx.Attempts - 1))
	}
	if hookCtx.Error != nil {
		h.TotalErrors.Add(1)
	}

	return nil
}

// GetStats returns current metrics as a map.
func (h *MetricsHook) GetStats() map[string]interface{} {
	totalCalls := h.TotalCalls.Load()
	totalDur := h.TotalDurationNs.Load()

	avgDuration := int64(0)
	if totalCalls > 0 {
		avgDuration = int64(totalDur / totalCalls)
	}

	return map[string]interface{}{
		"total_calls":          totalCalls,
		"total_data_queries":   h.TotalDataQueries.Load(),
		"total_scan_queries":   h.TotalScanQueries.Load(),
		"total_scheme_queries": h.TotalSchemeQuery.Load(),
		"total_transactions":   h.TotalTransactions.Load(),
		"total_errors":         h.TotalErrors.Load(),
		"total_retries":        h.TotalRetries.Load(),
		"total_duration_ns":    totalDur,
		"avg_duration_ns":      avgDuration,
		"avg_duration_ms":      float64(avgDuration) / 1_000_000,
	}
}

// Reset clears all metrics.
func (h *MetricsHook) Reset() {
	h.TotalCalls.Store(0)
	h.TotalDataQueries.Store(0)
	h.TotalScanQueries.Store(0)
	h.TotalSchemeQuery.Store(0)
	h.TotalTransactions.Store(0)
	h.TotalErrors.Store(0)
	h.TotalRetries.Store(0)
	h.TotalDurationNs.Store(0)
}
