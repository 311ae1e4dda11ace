package session

import (
	"github.com/verte-zerg/proctor/internal/model"
	"github.com/verte-zerg/proctor/internal/stream"
)

// liveAlertWindow bounds the alert log kept for live display. The full
// ordered log is retained separately for report synthesis.
const liveAlertWindow = 10

// aggregator folds inbound detection results into running counters and the
// alert logs. Counters are the source of truth for scoring; alerts are a
// human-readable echo of detections and never feed back into counters.
type aggregator struct {
	counters model.Counters
	live     []model.Alert
	full     []model.Alert
}

// apply folds one result in. The stats snapshot is authoritative and
// replaces the current counters wholesale (last write wins, no merging).
func (a *aggregator) apply(res stream.Result) {
	if len(res.Alerts) > 0 {
		a.full = append(a.full, res.Alerts...)
		a.live = append(a.live, res.Alerts...)
		if len(a.live) > liveAlertWindow {
			a.live = a.live[len(a.live)-liveAlertWindow:]
		}
	}
	if res.Stats != nil {
		a.counters = *res.Stats
	}
}

// reset clears all aggregated state for a fresh session.
func (a *aggregator) reset() {
	a.counters = model.Counters{}
	a.live = nil
	a.full = nil
}

func (a *aggregator) recentAlerts() []model.Alert {
	return append([]model.Alert(nil), a.live...)
}

func (a *aggregator) allAlerts() []model.Alert {
	return append([]model.Alert(nil), a.full...)
}
