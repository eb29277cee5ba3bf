package jobs

import (
	"context"
	"time"
)

type ReminderSender interface {
	SendReminders(ctx context.Context, lead time.Duration) (int, error)
}

type ChallengePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// ClinicConfig drives the standard jobs.
type ClinicConfig struct {
	ReminderInterval time.Duration
	ReminderLead     time.Duration
	PurgeInterval    time.Duration
}

// RegisterClinicJobs adds the appointment reminder and the OTP purge jobs.
// A nil dependency skips its job.
func RegisterClinicJobs(s *Scheduler, cfg ClinicConfig, reminders ReminderSender, otp ChallengePurger) error {
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = time.Hour
	}
	if reminders != nil {
		err := s.Add("appointment-reminders", cfg.ReminderInterval, func(ctx context.Context) error {
			n, err := reminders.SendReminders(ctx, cfg.ReminderLead)
			if n > 0 {
				s.logger.Info().Int("count", n).Msg("appointment reminders sent")
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	if otp != nil {
		err := s.Add("otp-purge", cfg.PurgeInterval, func(ctx context.Context) error {
			n, err := otp.PurgeExpired(ctx)
			if n > 0 {
				s.logger.Info().Int64("count", n).Msg("expired otp challenges purged")
			}
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
