package therapy

type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in-progress"
	StatusCompleted  PhaseStatus = "completed"
)

type PhaseProgress struct {
	Phase         Phase       `json:"phase"`
	Procedures    []string    `json:"procedures"`
	Days          int         `json:"days"`
	CompletedDays int         `json:"completedDays"`
	Status        PhaseStatus `json:"status"`
	StartDate     *Date       `json:"startDate,omitempty"`
	EndDate       *Date       `json:"endDate,omitempty"`
}

// Progress is derived from a Record and never stored.
type Progress struct {
	TotalDays       int             `json:"totalDays"`
	CurrentDay      int             `json:"currentDay"`
	RemainingDays   int             `json:"remainingDays"`
	Percent         int             `json:"percent"`
	CurrentPhase    Phase           `json:"currentPhase,omitempty"`
	Completed       bool            `json:"completed"`
	StartDate       *Date           `json:"startDate,omitempty"`
	ExpectedEndDate *Date           `json:"expectedEndDate,omitempty"`
	Phases          []PhaseProgress `json:"phases"`
}

func (r *Record) Progress() Progress {
	p := Progress{
		TotalDays:       r.TotalDays,
		CurrentDay:      r.CurrentDay,
		RemainingDays:   r.TotalDays - r.CurrentDay,
		Completed:       r.IsComplete(),
		StartDate:       r.StartDate,
		ExpectedEndDate: r.ExpectedEndDate(),
		Phases:          make([]PhaseProgress, 0, len(Phases)),
	}
	if p.RemainingDays < 0 {
		p.RemainingDays = 0
	}
	if r.TotalDays > 0 {
		p.Percent = r.CurrentDay * 100 / r.TotalDays
	}

	offset := 0
	for _, phase := range Phases {
		days := r.phaseDays(phase)
		pp := PhaseProgress{
			Phase:         phase,
			Procedures:    r.procedures(phase),
			Days:          days,
			CompletedDays: r.CompletedDays(phase),
			Status:        phaseStatus(r.CurrentDay, offset, offset+days),
		}
		if r.StartDate != nil && days > 0 {
			start := r.StartDate.AddDays(offset)
			end := start.AddDays(days - 1)
			pp.StartDate, pp.EndDate = &start, &end
		}
		if p.CurrentPhase == "" && pp.Status != StatusCompleted {
			p.CurrentPhase = phase
		}
		p.Phases = append(p.Phases, pp)
		offset += days
	}
	return p
}

// phaseStatus places the counter against the phase's [begin, end) day span.
func phaseStatus(currentDay, begin, end int) PhaseStatus {
	switch {
	case currentDay >= end:
		return StatusCompleted
	case currentDay > begin:
		return StatusInProgress
	default:
		return StatusPending
	}
}
