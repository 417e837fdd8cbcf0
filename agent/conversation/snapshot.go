package conversation

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPhase    = "Follicular"
	DefaultLocation = "New York City"
)

// Snapshot holds session-scoped ambient facts injected into every synthesis
// call. It is computed once per process lifetime and reused for every
// request, so the rendered date drifts while the process stays warm. That
// staleness is a deliberate property of the session contract, not a bug.
type Snapshot struct {
	CurrentDate time.Time
	DayName     string
	Phase       string
	Location    string
}

func NewSnapshot(now time.Time, phase, location string) Snapshot {
	if strings.TrimSpace(phase) == "" {
		phase = DefaultPhase
	}
	if strings.TrimSpace(location) == "" {
		location = DefaultLocation
	}
	date := now.UTC().Truncate(24 * time.Hour)
	return Snapshot{
		CurrentDate: date,
		DayName:     date.Weekday().String(),
		Phase:       phase,
		Location:    location,
	}
}

// Preamble renders the snapshot as the context block prepended to every
// synthesis prompt.
func (s Snapshot) Preamble() string {
	return fmt.Sprintf(
		"Important information to be considered while answering the query:\n"+
			"Current Menstrual Phase: %s\n"+
			"Today's date: %s\n"+
			"Day of the week: %s\n"+
			"Current Location: %s",
		s.Phase,
		s.CurrentDate.Format("2006-01-02"),
		s.DayName,
		s.Location,
	)
}
