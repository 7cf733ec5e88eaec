package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carwash/internal/domain"
	"carwash/internal/metrics"
	"carwash/internal/models"
	"carwash/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	TaskEmailStatus   = "email_status"
	TaskEmailReminder = "email_reminder"
	TaskSheetsUpsert  = "sheets_upsert"
	TaskSheetsStatus  = "sheets_status"
)

var (
	ErrUnknownTask    = errors.New("unknown task type")
	ErrMissingBooking = errors.New("booking payload missing")
)

// ServiceCatalog resolves service codes to display names for emails.
type ServiceCatalog interface {
	Service(code string) (models.Service, error)
}

// SlotResolver finds the template slot a booking occupies.
type SlotResolver interface {
	SlotAt(date time.Time, start string) (models.AvailabilitySlot, error)
}

// Options tunes the worker; zero values get defaults.
type Options struct {
	ShopName     string
	Slots        SlotResolver
	Retry        RetryPolicy
	PollInterval time.Duration
	// ClaimTimeout is how long a task handed to the fast path stays invisible to DB polling.
	ClaimTimeout time.Duration
	BatchSize    int
}

// OutboxWorker delivers booking side effects: emails and the Sheets mirror.
// Tasks are persisted first, then handed over via Redis or the local channel;
// DB polling picks up whatever the fast path lost.
type OutboxWorker struct {
	store         domain.OutboxRepository
	mailer        notify.Mailer
	sheets        domain.SheetsWriter
	catalog       ServiceCatalog
	redis         *redis.Client
	opts          Options
	queue         chan models.OutboxTask
	redisQueueKey string
	deadLetterKey string
	logger        *zerolog.Logger
	now           func() time.Time
	done          chan struct{}
}

type taskPayload struct {
	Booking *models.Booking `json:"booking"`
}

func NewOutboxWorker(
	store domain.OutboxRepository,
	mailer notify.Mailer,
	sheets domain.SheetsWriter,
	catalog ServiceCatalog,
	redisClient *redis.Client,
	opts Options,
	logger *zerolog.Logger,
) *OutboxWorker {
	opts.Retry = opts.Retry.withDefaults()
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.ClaimTimeout == 0 {
		opts.ClaimTimeout = 5 * time.Minute
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = 20
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		store:         store,
		mailer:        mailer,
		sheets:        sheets,
		catalog:       catalog,
		redis:         redisClient,
		opts:          opts,
		queue:         make(chan models.OutboxTask, models.OutboxQueueSize),
		done:          make(chan struct{}),
		redisQueueKey: "carwash:outbox:queue",
		deadLetterKey: "carwash:outbox:deadletter",
		logger:        logger,
		now:           time.Now,
	}
}

// EnqueueTask persists a task with a snapshot of the booking and schedules it.
// Tasks the worker cannot deliver (no Sheets mirror, no email address) are skipped.
func (w *OutboxWorker) EnqueueTask(ctx context.Context, taskType string, booking *models.Booking) error {
	if taskType == "" {
		return errors.New("task type is required")
	}
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}
	if !w.accepts(taskType, booking) {
		metrics.IncOutboxTask(taskType, "skipped")
		return nil
	}

	payload, err := json.Marshal(taskPayload{Booking: booking})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	claimUntil := w.now().Add(w.opts.ClaimTimeout)
	task := models.OutboxTask{
		TaskType:    taskType,
		BookingID:   booking.ID,
		Payload:     string(payload),
		Status:      models.OutboxPending,
		NextRetryAt: &claimUntil,
	}
	if err := w.store.CreateOutboxTask(ctx, &task); err != nil {
		return fmt.Errorf("persist outbox task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Redis push failed, using memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("Outbox memory queue full, task left to polling")
	}
	return nil
}

func (w *OutboxWorker) accepts(taskType string, booking *models.Booking) bool {
	switch taskType {
	case TaskSheetsUpsert, TaskSheetsStatus:
		return w.sheets != nil
	case TaskEmailStatus, TaskEmailReminder:
		return w.mailer != nil && booking.ClientEmail != ""
	}
	return true
}

// Start runs the worker loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Outbox worker started")
	defer close(w.done)
	defer w.logger.Info().Msg("Outbox worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		if n := w.drainPending(ctx); n == 0 {
			w.sleep(ctx)
		}
	}
}

// Done is closed once Start has returned.
func (w *OutboxWorker) Done() <-chan struct{} {
	return w.done
}

// drainPending processes one batch of due tasks from the database.
func (w *OutboxWorker) drainPending(ctx context.Context) int {
	tasks, err := w.store.GetPendingOutboxTasks(ctx, w.opts.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to fetch pending outbox tasks")
		}
		return 0
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks)
}

func (w *OutboxWorker) sleep(ctx context.Context) {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *OutboxWorker) tryLocalQueue() (models.OutboxTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.OutboxTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.OutboxTask, bool) {
	if w.redis == nil {
		return models.OutboxTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.OutboxTask{}, false
	}
	if len(res) != 2 {
		return models.OutboxTask{}, false
	}
	var task models.OutboxTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode redis task")
		return models.OutboxTask{}, false
	}
	return task, true
}

// claim reloads the task and reports whether it still has to run. A copy handed
// over by Redis may lag behind a run that DB polling already made.
func (w *OutboxWorker) claim(ctx context.Context, task *models.OutboxTask) bool {
	stored, err := w.store.GetOutboxTask(ctx, task.ID)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Outbox task reload failed, left to polling")
		}
		return false
	}

	switch stored.Status {
	case models.OutboxCompleted, models.OutboxFailed:
		metrics.IncOutboxTask(stored.TaskType, "duplicate")
		return false
	case models.OutboxRetry:
		if stored.NextRetryAt != nil && stored.NextRetryAt.After(w.now()) {
			return false
		}
	}
	*task = *stored
	return true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.OutboxTask) {
	if !w.claim(ctx, task) {
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload); err != nil {
		if isPermanent(err) {
			w.failTask(ctx, task, err)
			return
		}
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task completed")
	}
	metrics.IncOutboxTask(task.TaskType, models.OutboxCompleted)
}

func (w *OutboxWorker) handleTask(ctx context.Context, taskType string, payload taskPayload) error {
	b := payload.Booking
	if b == nil {
		return ErrMissingBooking
	}

	switch taskType {
	case TaskEmailStatus:
		return w.mailer.Send(ctx, notify.ForStatus(b.ClientEmail, b.Status, w.details(b)))
	case TaskEmailReminder:
		return w.mailer.Send(ctx, notify.BookingReminder(b.ClientEmail, w.details(b)))
	case TaskSheetsUpsert:
		return w.sheets.UpsertBooking(ctx, b)
	case TaskSheetsStatus:
		return w.sheets.UpdateBookingStatus(ctx, b.ID, b.Status)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskType)
	}
}

func (w *OutboxWorker) details(b *models.Booking) notify.BookingDetails {
	name := ""
	if w.catalog != nil {
		if svc, err := w.catalog.Service(b.ServiceType); err == nil {
			name = svc.Name
		}
	}
	return notify.DetailsFor(w.opts.ShopName, name, b, w.slotLength(b))
}

// slotLength is the length of the booked template slot, or the default slot
// length when the slot no longer exists in the schedule.
func (w *OutboxWorker) slotLength(b *models.Booking) time.Duration {
	if w.opts.Slots != nil {
		if slot, err := w.opts.Slots.SlotAt(b.Date, b.StartKey()); err == nil && slot.Duration > 0 {
			return time.Duration(slot.Duration) * time.Minute
		}
	}
	return models.DefaultSlotDuration * time.Minute
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.OutboxTask, cause error) {
	attempt := task.RetryCount + 1
	if w.opts.Retry.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.now().Add(w.opts.Retry.NextDelay(attempt))
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to schedule task retry")
	}
	w.logger.Warn().Err(cause).
		Int64("task_id", task.ID).
		Str("type", task.TaskType).
		Int("attempt", attempt).
		Time("next_retry_at", next).
		Msg("Outbox task failed, will retry")
	metrics.IncOutboxTask(task.TaskType, models.OutboxRetry)
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.OutboxTask, cause error) {
	if err := w.store.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark task failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("type", task.TaskType).Msg("Outbox task failed permanently")
	metrics.IncOutboxTask(task.TaskType, models.OutboxFailed)
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (taskPayload, error) {
	var payload taskPayload
	err := json.Unmarshal([]byte(raw), &payload)
	return payload, err
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.OutboxTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.OutboxTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Dead-letter push failed")
	}
}
