package engine

import "expvar"

// Counters exported under /debug/vars when a debug server is running.
var (
	metricStateChanges  = expvar.NewMap("voxtide_state_changes")
	metricReconnects    = expvar.NewInt("voxtide_reconnects")
	metricBargeIns      = expvar.NewInt("voxtide_barge_ins")
	metricResponses     = expvar.NewInt("voxtide_responses_requested")
	metricWatchdogFires = expvar.NewInt("voxtide_watchdog_fires")
	metricDroppedFrames = expvar.NewInt("voxtide_dropped_mic_frames")
)
