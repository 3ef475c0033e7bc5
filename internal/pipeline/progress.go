package pipeline

import (
	"math"
	"time"

	"github.com/kikiluvv/videomatte/pkg/util"
)

// etaMinElapsed is how long a job must run before an estimate is shown.
const etaMinElapsed = 5 * time.Second

// ProgressState is an immutable snapshot of a job's progress.
type ProgressState struct {
	Fraction  float64
	Started   time.Time
	Elapsed   time.Duration
	Processed int
	Total     int
}

// ETA estimates the remaining time as elapsed × (1 − f) / f, to the second. It is only
// available after etaMinElapsed and once some progress has been made.
func (p ProgressState) ETA() (time.Duration, bool) {
	if p.Elapsed < etaMinElapsed || p.Fraction <= 0 {
		return 0, false
	}
	remaining := p.Elapsed.Seconds() * (1 - p.Fraction) / p.Fraction
	return time.Duration(math.Round(math.Max(0, remaining))) * time.Second, true
}

// ETAString renders the estimate as "Estimated Time: 1H2M3S", or "" while no
// estimate is available.
func (p ProgressState) ETAString() string {
	eta, ok := p.ETA()
	if !ok {
		return ""
	}
	return "Estimated Time: " + util.FormatETA(eta)
}

// Percent renders the fraction with one decimal, e.g. "42.5%".
func (p ProgressState) Percent() string {
	return util.FormatPercent(p.Fraction)
}

// tracker turns frame counts into snapshots. Not safe for concurrent use;
// only the writer stage touches it.
type tracker struct {
	started time.Time
	total   int
	now     func() time.Time
	last    ProgressState
}

func newTracker(total int, now func() time.Time) *tracker {
	t := &tracker{started: now(), total: total, now: now}
	t.last = ProgressState{Started: t.started, Total: total}
	return t
}

// advance records processed frames written so far.
func (t *tracker) advance(processed int) ProgressState {
	f := 0.0
	if t.total > 0 {
		f = math.Min(1, float64(processed)/float64(t.total))
	}
	// never report less than before
	f = math.Max(f, t.last.Fraction)

	t.last = ProgressState{
		Fraction:  f,
		Started:   t.started,
		Elapsed:   t.now().Sub(t.started),
		Processed: processed,
		Total:     t.total,
	}
	return t.last
}

// complete returns the terminal snapshot at fraction 1 and whether it differs
// from the last one reported.
func (t *tracker) complete() (ProgressState, bool) {
	changed := t.last.Fraction < 1
	t.last.Fraction = 1
	t.last.Elapsed = t.now().Sub(t.started)
	return t.last, changed
}
