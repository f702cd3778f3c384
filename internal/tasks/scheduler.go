package tasks

import (
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

// Registrar is implemented by *asynq.Scheduler.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// Schedule is one periodic task.
type Schedule struct {
	Name     string
	Cronspec string
	Task     func() (*asynq.Task, error)
}

func frequencySchedule(frequency models.BillingFrequency, cronspec string) Schedule {
	return Schedule{
		Name:     string(frequency) + " invoices",
		Cronspec: cronspec,
		Task: func() (*asynq.Task, error) {
			return NewFrequencyInvoiceTask(FrequencyInvoicePayload{Frequency: frequency})
		},
	}
}

// Schedules lists the generation and overdue runs. Scheduled payloads carry
// no period, so each run bills the period containing its processing time.
func Schedules() []Schedule {
	return []Schedule{
		frequencySchedule(models.FrequencyWeekly, "5 0 * * 1"),
		{
			Name:     "monthly invoices",
			Cronspec: "10 0 1 * *",
			Task:     func() (*asynq.Task, error) { return NewMonthlyInvoiceTask(MonthlyInvoicePayload{}) },
		},
		frequencySchedule(models.FrequencyQuarterly, "15 0 1 1,4,7,10 *"),
		frequencySchedule(models.FrequencyAnnual, "20 0 1 1 *"),
		{
			Name:     "overdue check",
			Cronspec: "0 6 * * *",
			Task:     func() (*asynq.Task, error) { return NewCheckOverdueTask(), nil },
		},
	}
}

// RegisterSchedules adds every entry of Schedules to the scheduler.
func RegisterSchedules(r Registrar) error {
	for _, s := range Schedules() {
		task, err := s.Task()
		if err != nil {
			return err
		}
		entryID, err := r.Register(s.Cronspec, task)
		if err != nil {
			return fmt.Errorf("failed to register %s schedule: %w", s.Name, err)
		}
		log.Printf("Scheduled %s (%s) as entry %s", s.Name, s.Cronspec, entryID)
	}
	return nil
}

// NewScheduler returns an asynq scheduler evaluating cron specs in UTC.
func NewScheduler(redisOpt asynq.RedisConnOpt) *asynq.Scheduler {
	return asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Printf("Scheduler failed to enqueue task: %v", err)
			}
		},
	})
}
