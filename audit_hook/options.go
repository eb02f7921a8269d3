package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits the trail to the listed actions. Without it every
// action is recorded; names that match no action have no effect.
//
//	audithook.New(recorder, audithook.WithActions(
//	    audithook.ActionRunFailed,
//	    audithook.ActionStepTimedOut,
//	))
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithMinSeverity drops events ranked below severity, where info <
// warning < critical. An unknown severity keeps every event.
func WithMinSeverity(severity string) Option {
	return func(e *Extension) { e.minRank = severityRank[severity] }
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
