package main

import (
	"fmt"

	"github.com/mrexodia/jobsupervisor/console"
	"github.com/mrexodia/jobsupervisor/supervisor"
	"github.com/robfig/cron/v3"
)

// StatusReporter logs a one-line summary of the cohort on a cron schedule
type StatusReporter struct {
	cron     *cron.Cron
	children ChildLister
	log      *console.Logger
}

// NewStatusReporter parses the schedule; the reporter is idle until Start
func NewStatusReporter(schedule string, children ChildLister, log *console.Logger) (*StatusReporter, error) {
	r := &StatusReporter{
		cron:     cron.New(),
		children: children,
		log:      log,
	}
	if _, err := r.cron.AddFunc(schedule, r.report); err != nil {
		return nil, fmt.Errorf("failed to parse cron schedule %q: %w", schedule, err)
	}
	return r, nil
}

// Start runs the schedule in the background
func (r *StatusReporter) Start() {
	r.cron.Start()
}

// Stop stops the schedule and waits for a running report
func (r *StatusReporter) Stop() {
	<-r.cron.Stop().Done()
}

func (r *StatusReporter) report() {
	r.log.Printf("%s", summarize(r.children.Children()))
}

func summarize(children []supervisor.ChildStatus) string {
	counts := make(map[supervisor.State]int)
	exited := 0
	for _, c := range children {
		counts[c.State]++
		if c.Exited {
			exited++
		}
	}
	return fmt.Sprintf("%d children: %d bound, %d unbound, %d terminated, %d exited",
		len(children), counts[supervisor.Bound], counts[supervisor.Unbound], counts[supervisor.Terminated], exited)
}
