// Package schedule runs the triage pipeline on a cron schedule, covering
// installs without the CloudWatch alarm wiring.
package schedule

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"clouddoctor/internal/domain"
	"clouddoctor/internal/triage"
)

type Runner interface {
	Run(ctx context.Context, p triage.RunParams) (domain.TriageResult, error)
}

// StartMonitor schedules periodic runs with drafting disabled, mirroring the
// alarm trigger path. An empty spec disables the monitor.
func StartMonitor(scheduleSpec string, windowMinutes int, runner Runner) {
	if scheduleSpec == "" {
		log.Println("No monitor_schedule configured, periodic monitor disabled")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(scheduleSpec)
	if err != nil {
		log.Printf("Invalid monitor_schedule '%s': %v — periodic monitor disabled", scheduleSpec, err)
		return
	}
	if windowMinutes <= 0 {
		windowMinutes = 30
	}

	log.Printf("Periodic monitor scheduled (cron: %s, window: %dm)", scheduleSpec, windowMinutes)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next monitor run at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			time.Sleep(wait)

			_, err := runner.Run(context.Background(), triage.RunParams{
				WindowMinutes: windowMinutes,
				GenerateDraft: false,
				Notify:        true,
				TriggeredBy:   "monitor",
			})
			if err != nil {
				log.Printf("monitor run failed: %v", err)
			}
		}
	}()
}
