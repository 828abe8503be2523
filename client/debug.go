package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// EnableDebugMode enables verbose error formatting with stack traces.
func (c *Connection) EnableDebugMode() {
	c.debugMode.Store(true)
	c.logger.Info("debug mode enabled")
}

// DisableDebugMode disables debug mode.
func (c *Connection) DisableDebugMode() {
	c.debugMode.Store(false)
	c.logger.Info("debug mode disabled")
}

// IsDebugMode returns whether debug mode is currently enabled.
func (c *Connection) IsDebugMode() bool {
	return c.debugMode.Load()
}

// GetDebugInfo returns a snapshot of connection state for debugging.
func (c *Connection) GetDebugInfo() map[string]interface{} {
	state := c.state.Load()
	info := map[string]interface{}{
		"version":   Version,
		"id":        c.id,
		"debugMode": c.IsDebugMode(),
		"hooks":     c.Hooks(),
	}

	session := ""
	if s := state.HeldSession(); s != nil {
		session = s.ID()
	}
	info["state"] = map[string]interface{}{
		"kind":             state.Kind().String(),
		"txId":             state.TxID(),
		"session":          session,
		"transactionLevel": state.Level().String(),
		"autoCommit":       state.AutoCommit(),
		"readOnly":         state.ReadOnly(),
	}

	stats := c.cache.Stats()
	info["queryCache"] = map[string]interface{}{
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"evictions": stats.Evictions,
		"size":      stats.Size,
	}

	info["options"] = map[string]interface{}{
		"joinDuration":      c.opts.JoinDuration.String(),
		"queryTimeout":      c.opts.QueryTimeout.String(),
		"scanQueryTimeout":  c.opts.ScanQueryTimeout.String(),
		"sessionTimeout":    c.opts.SessionTimeout.String(),
		"deadlineTimeout":   c.opts.DeadlineTimeout.String(),
		"scanQueryTxMode":   c.opts.ScanQueryTxMode.String(),
		"schemeQueryTxMode": c.opts.SchemeQueryTxMode.String(),
		"maxRetries":        c.opts.MaxRetries,
	}

	info["warnings"] = len(c.Warnings())

	if t, ok := c.LastTransition(); ok {
		info["lastTransition"] = map[string]interface{}{
			"from":      t.From.Kind().String(),
			"to":        t.To.Kind().String(),
			"reason":    t.Reason,
			"timestamp": t.Timestamp.Format(time.RFC3339Nano),
		}
	}

	return info
}

// DumpDebugInfoJSON returns debug info as formatted JSON string.
func (c *Connection) DumpDebugInfoJSON() string {
	info := c.GetDebugInfo()
	bytes, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal debug info: %s"}`, err.Error())
	}
	return string(bytes)
}
