package analysis

// Phase is the stage an Analyzer is in.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseParsing
	PhaseMatching
	PhaseStatistics
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseParsing:
		return "Parsing"
	case PhaseMatching:
		return "Matching"
	case PhaseStatistics:
		return "Statistics"
	case PhaseDone:
		return "Done"
	}
	return "Unknown"
}

// Progress is a point-in-time view of a run.
type Progress struct {
	Phase Phase

	LinesDone  int64
	LinesTotal int64

	PairsDone  int64
	PairsTotal int64

	StatsDone  int64
	StatsTotal int64
}

// Ratio returns the completion of phase p in [0, 1]. Finished phases
// report 1 and phases not yet started report 0.
func (pr Progress) Ratio(p Phase) float64 {
	switch {
	case pr.Phase > p:
		return 1
	case pr.Phase < p:
		return 0
	}

	var done, total int64
	switch p {
	case PhaseParsing:
		done, total = pr.LinesDone, pr.LinesTotal
	case PhaseMatching:
		done, total = pr.PairsDone, pr.PairsTotal
	case PhaseStatistics:
		done, total = pr.StatsDone, pr.StatsTotal
	default:
		return 0
	}
	if total <= 0 {
		return 0
	}
	r := float64(done) / float64(total)
	if r > 1 {
		r = 1
	}
	return r
}

// Counts returns the done/total pair of phase p.
func (pr Progress) Counts(p Phase) (done, total int64) {
	switch p {
	case PhaseParsing:
		return pr.LinesDone, pr.LinesTotal
	case PhaseMatching:
		return pr.PairsDone, pr.PairsTotal
	case PhaseStatistics:
		return pr.StatsDone, pr.StatsTotal
	}
	return 0, 0
}
