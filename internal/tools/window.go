package tools

import "time"

// defaultWindowMinutes is the evidence lookback used when the caller does
// not pass window_minutes.
const defaultWindowMinutes = 60

// timeWindow is the concrete [Start, End] evidence window of a tool call.
type timeWindow struct {
	Start time.Time
	End   time.Time
}

// windowArg reads the optional window_minutes argument into a window ending
// now. Missing or non-positive values fall back to the default lookback.
func windowArg(args map[string]any) timeWindow {
	minutes := intArg(args, "window_minutes", defaultWindowMinutes)
	if minutes < 1 {
		minutes = defaultWindowMinutes
	}
	end := time.Now().UTC()
	return timeWindow{Start: end.Add(-time.Duration(minutes) * time.Minute), End: end}
}

// StartMillis returns the window start as Unix epoch milliseconds.
func (w timeWindow) StartMillis() int64 {
	return w.Start.UnixMilli()
}

// EndMillis returns the window end as Unix epoch milliseconds.
func (w timeWindow) EndMillis() int64 {
	return w.End.UnixMilli()
}

// Duration returns the window length.
func (w timeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// MetricPeriod picks a CloudWatch statistics period in seconds that keeps
// the datapoint count manageable: one minute for short windows, coarser as
// the window grows.
func (w timeWindow) MetricPeriod() int32 {
	switch d := w.Duration(); {
	case d <= 3*time.Hour:
		return 60
	case d <= 24*time.Hour:
		return 300
	default:
		return 3600
	}
}
