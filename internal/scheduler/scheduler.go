package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/SlavaLB/it-school/internal/clock"
	"github.com/SlavaLB/it-school/internal/domain"

	"github.com/wb-go/wbf/zlog"
)

const (
	startStampLayout    = "2006-01-02 15:04"
	reminderStampLayout = "2006-01-02 15:04:05"
)

// Scheduler turns a lesson into a reminder task. The reminder fires offset
// before the lesson start; a lesson created inside (or past) that window
// still gets exactly one notice, sent almost immediately.
type Scheduler struct {
	submitter TaskSubmitter
	clk       *clock.Clock
	offset    time.Duration
	grace     time.Duration
}

func New(submitter TaskSubmitter, clk *clock.Clock, offset, grace time.Duration) *Scheduler {
	return &Scheduler{
		submitter: submitter,
		clk:       clk,
		offset:    offset,
		grace:     grace,
	}
}

// OnLessonCreated is the inbound boundary for the lesson catalogue. It only
// enqueues an immediate ScheduleReminder task; the reminder arithmetic runs
// on a worker. A store failure propagates so the caller can roll back.
func (s *Scheduler) OnLessonCreated(ctx context.Context, lesson domain.Lesson) (string, error) {
	payload := domain.ReminderPayload{
		Title:   lesson.Title,
		StartAt: s.clk.Normalize(lesson.StartAt).Format(time.RFC3339),
	}
	id, err := s.submitter.Submit(ctx, domain.TypeScheduleReminder, payload, s.clk.Now())
	if err != nil {
		return "", fmt.Errorf("failed to schedule lesson reminder: %w", err)
	}
	return id, nil
}

// HandleSchedule is the ScheduleReminder task body.
func (s *Scheduler) HandleSchedule(ctx context.Context, payload domain.ReminderPayload) error {
	startAt, err := s.clk.ParseStart(payload.StartAt)
	if err != nil {
		return err
	}

	now := s.clk.Now()
	reminderAt := startAt.Add(-s.offset)
	wait := reminderAt.Sub(now)

	zlog.Logger.Info().
		Str("title", payload.Title).
		Str("start_at", startAt.Format(startStampLayout)).
		Msgf("📅 Вы добавлены в урок '%s'", payload.Title)
	zlog.Logger.Info().
		Str("title", payload.Title).
		Str("reminder_at", reminderAt.Format(reminderStampLayout)).
		Msg("⏰ Напоминание должно прийти")

	next := domain.ReminderPayload{
		Title:   payload.Title,
		StartAt: startAt.Format(time.RFC3339),
	}
	if wait > 0 {
		next.IsEarlyNotice = true
		_, err = s.submitter.Submit(ctx, domain.TypeSendReminder, next, reminderAt)
	} else {
		// Less than offset until start (or already started): notify right away.
		next.IsEarlyNotice = false
		_, err = s.submitter.Submit(ctx, domain.TypeSendReminder, next, now.Add(s.grace))
	}
	return err
}
