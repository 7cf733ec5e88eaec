package jobs

import (
	"context"
	"fmt"
	"time"

	"carwash/internal/models"
)

const (
	JobBackup         = "backup"
	JobReminders      = "reminders"
	JobOutboxPurge    = "outbox_purge"
	JobSheetsSync     = "sheets_sync"
	JobLimiterCleanup = "limiter_cleanup"

	outboxPurgeCron      = "30 4 * * *"
	limiterCleanupCron   = "0 * * * *"
	outboxRetention      = 7 * 24 * time.Hour
	sheetsSyncPastWindow = 30 // days
)

type Backuper interface {
	Run(ctx context.Context) error
}

type ReminderEnqueuer interface {
	EnqueueReminders(ctx context.Context, date time.Time) (int, error)
}

type OutboxPurger interface {
	PurgeCompletedOutboxTasks(ctx context.Context, before time.Time) (int64, error)
}

// WindowSweeper drops expired in-memory rate-limit windows.
type WindowSweeper interface {
	Cleanup() int
}

type BookingLister interface {
	GetBookingsByDateRange(ctx context.Context, from, to time.Time) ([]models.Booking, error)
}

type SheetReplacer interface {
	ReplaceBookingsSheet(ctx context.Context, bookings []models.Booking) error
}

// RegisterBackup schedules database backups with retention cleanup.
func (s *Scheduler) RegisterBackup(cronExpr string, backup Backuper) error {
	_, err := s.AddJob(JobBackup, cronExpr, backup.Run)
	return err
}

// RegisterReminders schedules the daily run that queues reminders for the next day.
func (s *Scheduler) RegisterReminders(cronExpr string, svc ReminderEnqueuer, loc *time.Location) error {
	_, err := s.AddJob(JobReminders, cronExpr, s.remindersTask(svc, loc, time.Now))
	return err
}

func (s *Scheduler) remindersTask(svc ReminderEnqueuer, loc *time.Location, now func() time.Time) Task {
	if loc == nil {
		loc = time.Local
	}
	return func(ctx context.Context) error {
		today := now().In(loc)
		tomorrow := time.Date(today.Year(), today.Month(), today.Day()+1, 0, 0, 0, 0, loc)
		n, err := svc.EnqueueReminders(ctx, tomorrow)
		if err != nil {
			return fmt.Errorf("enqueue reminders for %s: %w", tomorrow.Format(models.DateLayout), err)
		}
		s.logger.Info().Str("date", tomorrow.Format(models.DateLayout)).Int("queued", n).Msg("Reminders queued")
		return nil
	}
}

// RegisterOutboxPurge schedules removal of completed outbox tasks older than a week.
func (s *Scheduler) RegisterOutboxPurge(store OutboxPurger) error {
	_, err := s.AddJob(JobOutboxPurge, outboxPurgeCron, s.outboxPurgeTask(store, time.Now))
	return err
}

func (s *Scheduler) outboxPurgeTask(store OutboxPurger, now func() time.Time) Task {
	return func(ctx context.Context) error {
		n, err := store.PurgeCompletedOutboxTasks(ctx, now().Add(-outboxRetention))
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Info().Int64("removed", n).Msg("Outbox purged")
		}
		return nil
	}
}

// RegisterLimiterCleanup sweeps expired rate-limit windows every hour.
func (s *Scheduler) RegisterLimiterCleanup(limiter WindowSweeper) error {
	_, err := s.AddJob(JobLimiterCleanup, limiterCleanupCron, s.limiterCleanupTask(limiter))
	return err
}

func (s *Scheduler) limiterCleanupTask(limiter WindowSweeper) Task {
	return func(context.Context) error {
		if n := limiter.Cleanup(); n > 0 {
			s.logger.Debug().Int("removed", n).Msg("Rate-limit windows swept")
		}
		return nil
	}
}

// RegisterSheetsSync schedules a full rewrite of the bookings sheet covering the
// last month and the whole bookable horizon.
func (s *Scheduler) RegisterSheetsSync(cronExpr string, bookings BookingLister, sheets SheetReplacer, horizonDays int, loc *time.Location) error {
	_, err := s.AddJob(JobSheetsSync, cronExpr, s.sheetsSyncTask(bookings, sheets, horizonDays, loc, time.Now))
	return err
}

func (s *Scheduler) sheetsSyncTask(bookings BookingLister, sheets SheetReplacer, horizonDays int, loc *time.Location, now func() time.Time) Task {
	if loc == nil {
		loc = time.Local
	}
	return func(ctx context.Context) error {
		today := now().In(loc)
		day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)
		from := day.AddDate(0, 0, -sheetsSyncPastWindow)
		to := day.AddDate(0, 0, horizonDays)

		list, err := bookings.GetBookingsByDateRange(ctx, from, to)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		if err := sheets.ReplaceBookingsSheet(ctx, list); err != nil {
			return fmt.Errorf("replace sheet: %w", err)
		}
		s.logger.Info().Int("bookings", len(list)).Msg("Bookings sheet resynced")
		return nil
	}
}
