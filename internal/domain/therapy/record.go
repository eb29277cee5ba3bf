package therapy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTotalDays applies when a record arrives without a duration.
	DefaultTotalDays = 7
	// MinTotalDays is the shortest plan in which every phase gets a day.
	MinTotalDays = 3
)

type Phase string

const (
	Purvakarma    Phase = "purvakarma"
	Pradhanakarma Phase = "pradhanakarma"
	Paschatkarma  Phase = "paschatkarma"
)

// Phases lists the phases in treatment order.
var Phases = []Phase{Purvakarma, Pradhanakarma, Paschatkarma}

var (
	ErrInvalidPhase  = errors.New("invalid phase")
	ErrInvalidRecord = errors.New("invalid therapy record")
)

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRecord, fmt.Sprintf(format, args...))
}

// ParsePhase accepts the phase names case-insensitively, with or without a
// space or hyphen before "karma".
func ParsePhase(s string) (Phase, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(norm)
	switch Phase(norm) {
	case Purvakarma, Pradhanakarma, Paschatkarma:
		return Phase(norm), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPhase, s)
}

const dateLayout = "2006-01-02"

// Date is a calendar day encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) AddDays(n int) Date {
	return Date{d.Time.AddDate(0, 0, n)}
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	// Browsers send full ISO timestamps from date pickers.
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Record is the progress state of one therapy course. The three phase
// lengths always add up to TotalDays once allocated.
type Record struct {
	Therapy           string   `json:"therapy"`
	Purvakarma        []string `json:"purvakarma"`
	Pradhanakarma     []string `json:"pradhanakarma"`
	Paschatkarma      []string `json:"paschatkarma"`
	TotalDays         int      `json:"totalDays"`
	CurrentDay        int      `json:"currentDay"`
	PurvakarmaDays    int      `json:"purvakarmaDays"`
	PradhanakarmaDays int      `json:"pradhanakarmaDays"`
	PaschatkarmaDays  int      `json:"paschatkarmaDays"`
	StartDate         *Date    `json:"startDate,omitempty"`
}

// Allocation is the split of a course into its three phases.
type Allocation struct {
	Purvakarma    int
	Pradhanakarma int
	Paschatkarma  int
}

func (a Allocation) Total() int {
	return a.Purvakarma + a.Pradhanakarma + a.Paschatkarma
}

// Allocate splits totalDays 30/50/20. The boundary phases get at least one
// day and the main phase takes the remainder, never below zero. Below
// MinTotalDays the remainder cannot cover all three phases.
func Allocate(totalDays int) Allocation {
	if totalDays == 0 {
		totalDays = DefaultTotalDays
	}
	purva := totalDays * 3 / 10
	paschat := totalDays * 2 / 10
	if purva < 1 {
		purva = 1
	}
	if paschat < 1 {
		paschat = 1
	}
	pradhana := totalDays - purva - paschat
	if pradhana < 0 {
		pradhana = 0
	}
	return Allocation{Purvakarma: purva, Pradhanakarma: pradhana, Paschatkarma: paschat}
}

func (r *Record) allocation() Allocation {
	return Allocation{
		Purvakarma:    r.PurvakarmaDays,
		Pradhanakarma: r.PradhanakarmaDays,
		Paschatkarma:  r.PaschatkarmaDays,
	}
}

func (r *Record) phaseDays(p Phase) int {
	switch p {
	case Purvakarma:
		return r.PurvakarmaDays
	case Pradhanakarma:
		return r.PradhanakarmaDays
	default:
		return r.PaschatkarmaDays
	}
}

func (r *Record) procedures(p Phase) []string {
	switch p {
	case Purvakarma:
		return r.Purvakarma
	case Pradhanakarma:
		return r.Pradhanakarma
	default:
		return r.Paschatkarma
	}
}

// Normalize fills defaults the way a freshly submitted prescription is
// first rendered: duration, phase split and a counter within bounds.
// Records that already carry phase lengths keep them.
func (r *Record) Normalize() {
	r.Therapy = strings.TrimSpace(r.Therapy)
	if r.Purvakarma == nil {
		r.Purvakarma = []string{}
	}
	if r.Pradhanakarma == nil {
		r.Pradhanakarma = []string{}
	}
	if r.Paschatkarma == nil {
		r.Paschatkarma = []string{}
	}

	if r.PurvakarmaDays == 0 && r.PradhanakarmaDays == 0 && r.PaschatkarmaDays == 0 {
		a := Allocate(r.TotalDays)
		r.PurvakarmaDays, r.PradhanakarmaDays, r.PaschatkarmaDays = a.Purvakarma, a.Pradhanakarma, a.Paschatkarma
		if r.TotalDays == 0 {
			r.TotalDays = DefaultTotalDays
		}
	}
	if r.TotalDays == 0 {
		r.TotalDays = r.allocation().Total()
	}

	if r.CurrentDay < 0 {
		r.CurrentDay = 0
	}
	if r.CurrentDay > r.TotalDays {
		r.CurrentDay = r.TotalDays
	}
}

// Validate checks the invariants of a normalized record.
func (r *Record) Validate() error {
	if r.Therapy == "" {
		return invalidf("therapy is required")
	}
	if r.TotalDays < MinTotalDays {
		return invalidf("totalDays must be at least %d, got %d", MinTotalDays, r.TotalDays)
	}
	if r.PurvakarmaDays < 1 || r.PaschatkarmaDays < 1 || r.PradhanakarmaDays < 1 {
		return invalidf("every phase needs at least one day")
	}
	if sum := r.allocation().Total(); sum != r.TotalDays {
		return invalidf("phase days add up to %d, want totalDays %d", sum, r.TotalDays)
	}
	if r.CurrentDay < 0 || r.CurrentDay > r.TotalDays {
		return invalidf("currentDay must be between 0 and %d, got %d", r.TotalDays, r.CurrentDay)
	}
	return nil
}

// Complete marks one more day done. The counter is shared by all phases,
// which run strictly in sequence, and stops at TotalDays.
func (r *Record) Complete(p Phase) error {
	if _, err := ParsePhase(string(p)); err != nil {
		return err
	}
	if r.CurrentDay < r.TotalDays {
		r.CurrentDay++
	}
	return nil
}

// Extend adds one day to the named phase and to the course. The other
// phases are left as they are.
func (r *Record) Extend(p Phase) error {
	phase, err := ParsePhase(string(p))
	if err != nil {
		return err
	}
	switch phase {
	case Purvakarma:
		r.PurvakarmaDays++
	case Pradhanakarma:
		r.PradhanakarmaDays++
	case Paschatkarma:
		r.PaschatkarmaDays++
	}
	r.TotalDays++
	return nil
}

// Start records the first day of treatment.
func (r *Record) Start(d Date) {
	r.StartDate = &d
}

// CompletedDays derives the finished days of a phase from the shared counter.
func (r *Record) CompletedDays(p Phase) int {
	switch p {
	case Purvakarma:
		return clamp(r.CurrentDay, 0, r.PurvakarmaDays)
	case Pradhanakarma:
		return clamp(r.CurrentDay-r.PurvakarmaDays, 0, r.PradhanakarmaDays)
	case Paschatkarma:
		return clamp(r.CurrentDay-r.PurvakarmaDays-r.PradhanakarmaDays, 0, r.PaschatkarmaDays)
	}
	return 0
}

func (r *Record) IsComplete() bool {
	return r.TotalDays > 0 && r.CurrentDay >= r.TotalDays
}

// ExpectedEndDate is the last treatment day, or nil before the course starts.
func (r *Record) ExpectedEndDate() *Date {
	if r.StartDate == nil || r.TotalDays < 1 {
		return nil
	}
	end := r.StartDate.AddDays(r.TotalDays - 1)
	return &end
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeRecord renders the record as JSON for a URL query value.
func EncodeRecord(r Record) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return string(b), nil
}

// DecodeRecord parses a record from an already unescaped query value.
func DecodeRecord(s string) (Record, error) {
	var r Record
	if strings.TrimSpace(s) == "" {
		return r, fmt.Errorf("decode record: empty data")
	}
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return r, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// ViewURL links to the stateless viewer with the record embedded.
func ViewURL(base string, r Record) (string, error) {
	data, err := EncodeRecord(r)
	if err != nil {
		return "", err
	}
	return base + "?" + url.Values{"data": {data}}.Encode(), nil
}
