package scheduler

import (
	"context"

	"github.com/aristath/quantlab/internal/calendar"
)

// CalendarRefreshJob proactively refreshes the expiry calendar for a fixed
// set of futures roots, so a request never pays the cold-refresh cost.
type CalendarRefreshJob struct {
	Calendar *calendar.Calendar
	Roots    []string
}

func (j *CalendarRefreshJob) Name() string { return "calendar_refresh" }

func (j *CalendarRefreshJob) Run() error {
	for _, root := range j.Roots {
		if _, err := j.Calendar.Chain(context.Background(), root); err != nil {
			return err
		}
	}
	return nil
}
