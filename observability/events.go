package observability

import (
	"log/slog"

	"pixrouter/selector"
)

// DecisionHook builds a selector.OnDecision hook that logs each routing
// decision as structured JSON and feeds the selector metrics. Only hashed
// fingerprints and decision metadata are emitted; payment identifiers stay
// out of the log stream.
func DecisionHook(log *slog.Logger) func(selector.Event) {
	metrics := Selector()
	return func(ev selector.Event) {
		metrics.ObserveDecision(ev.Kind.String(), ev.Gateway, ev.Latency)
		if log == nil {
			return
		}
		log.Info("decision",
			slog.Int64("ruleset_id", ev.RulesetID),
			slog.Int64("version", ev.Version),
			slog.Int64("rule_id", ev.RuleID),
			slog.String("kind", ev.Kind.String()),
			slog.String("gateway", ev.Gateway),
			slog.String("fingerprint", ev.Fingerprint),
			slog.Int64("latency_us", ev.Latency.Microseconds()),
		)
	}
}
