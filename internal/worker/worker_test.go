package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"carwash/internal/database"
	"carwash/internal/models"
	"carwash/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/googleapi"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewOutboxWorker(db, mailer, nil, fakeCatalog{}, nil, Options{ShopName: "Lavadero"}, nil)

	ctx := context.Background()
	booking := testBooking(1)
	if err := worker.EnqueueTask(ctx, TaskEmailStatus, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.OutboxCompleted {
		t.Fatalf("expected status=completed, got %s", stored.Status)
	}
	if stored.RetryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", stored.RetryCount)
	}
	if stored.NextRetryAt != nil {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mailer.sent))
	}
	if mailer.sent[0].To != "ana@example.com" {
		t.Fatalf("unexpected recipient %q", mailer.sent[0].To)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{err: errors.New("ses unavailable")}
	worker := NewOutboxWorker(db, mailer, nil, nil, nil, Options{Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, TaskEmailStatus, testBooking(2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.OutboxRetry {
		t.Fatalf("expected status=retry, got %s", stored.Status)
	}
	if stored.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", stored.RetryCount)
	}
	if stored.NextRetryAt == nil || stored.NextRetryAt.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", stored.NextRetryAt)
	}
	if stored.LastError == nil || *stored.LastError != "ses unavailable" {
		t.Fatalf("expected last_error to be recorded, got %v", stored.LastError)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("fatal")}
	worker := NewOutboxWorker(db, nil, sheets, nil, nil, Options{Retry: RetryPolicy{MaxRetries: 1}}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, TaskSheetsUpsert, testBooking(3)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	if status := loadTask(t, db, task.ID).Status; status != models.OutboxFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestProcessTaskUnknownTypeFailsImmediately(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, nil, nil, nil, nil, Options{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, "bogus", testBooking(4)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	stored := loadTask(t, db, task.ID)
	if stored.Status != models.OutboxFailed || stored.RetryCount != 0 {
		t.Fatalf("expected failed without retries, got %s/%d", stored.Status, stored.RetryCount)
	}
}

func TestOutboxWorker_HandleTask(t *testing.T) {
	mailer := &fakeMailer{}
	sheets := &fakeSheets{}
	worker := NewOutboxWorker(nil, mailer, sheets, fakeCatalog{}, nil, Options{ShopName: "Lavadero"}, nil)
	ctx := context.Background()

	t.Run("EmailStatus", func(t *testing.T) {
		b := testBooking(1)
		b.Status = models.StatusConfirmed
		if err := worker.handleTask(ctx, TaskEmailStatus, taskPayload{Booking: b}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		want := notify.BookingConfirmed(b.ClientEmail, notify.DetailsFor("Lavadero", "Lavado completo", b, models.DefaultSlotDuration*time.Minute))
		if got := mailer.sent[len(mailer.sent)-1]; got != want {
			t.Fatalf("unexpected message %+v", got)
		}
	})

	t.Run("Reminder", func(t *testing.T) {
		b := testBooking(1)
		if err := worker.handleTask(ctx, TaskEmailReminder, taskPayload{Booking: b}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		want := notify.BookingReminder(b.ClientEmail, notify.DetailsFor("Lavadero", "Lavado completo", b, models.DefaultSlotDuration*time.Minute))
		if got := mailer.sent[len(mailer.sent)-1]; got.Subject != want.Subject {
			t.Fatalf("unexpected subject %q", got.Subject)
		}
	})

	t.Run("SheetsUpsert", func(t *testing.T) {
		if err := worker.handleTask(ctx, TaskSheetsUpsert, taskPayload{Booking: testBooking(1)}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.upsertCalls != 1 {
			t.Fatalf("expected 1 upsert call, got %d", sheets.upsertCalls)
		}
	})

	t.Run("SheetsStatus", func(t *testing.T) {
		if err := worker.handleTask(ctx, TaskSheetsStatus, taskPayload{Booking: testBooking(1)}); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if sheets.statusCalls != 1 {
			t.Fatalf("expected 1 status call, got %d", sheets.statusCalls)
		}
	})

	t.Run("MissingBooking", func(t *testing.T) {
		if err := worker.handleTask(ctx, TaskSheetsUpsert, taskPayload{}); !errors.Is(err, ErrMissingBooking) {
			t.Fatalf("expected ErrMissingBooking, got %v", err)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if err := worker.handleTask(ctx, "bogus", taskPayload{Booking: testBooking(1)}); !errors.Is(err, ErrUnknownTask) {
			t.Fatalf("expected ErrUnknownTask, got %v", err)
		}
	})
}

func TestOutboxWorker_SlotLengthFromSchedule(t *testing.T) {
	mailer := &fakeMailer{}
	slots := fakeSlots{duration: 60}
	worker := NewOutboxWorker(nil, mailer, nil, fakeCatalog{}, nil, Options{ShopName: "Lavadero", Slots: slots}, nil)

	b := testBooking(1)
	b.Status = models.StatusConfirmed
	if err := worker.handleTask(context.Background(), TaskEmailStatus, taskPayload{Booking: b}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := notify.BookingConfirmed(b.ClientEmail, notify.DetailsFor("Lavadero", "Lavado completo", b, time.Hour))
	if got := mailer.sent[0]; got != want {
		t.Fatalf("expected one-hour slot in message, got %+v", got)
	}

	// слот не найден: длительность по умолчанию
	worker.opts.Slots = fakeSlots{err: errors.New("no slot")}
	if got := worker.slotLength(b); got != models.DefaultSlotDuration*time.Minute {
		t.Fatalf("expected default slot length, got %s", got)
	}
}

func TestOutboxWorker_StaleCopySkipped(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewOutboxWorker(db, mailer, nil, fakeCatalog{}, nil, Options{}, nil)
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, TaskEmailStatus, testBooking(11)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	stale := task

	worker.processTask(ctx, &task)
	// the same task handed over a second time, as a late redis copy would be
	worker.processTask(ctx, &stale)

	if len(mailer.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(mailer.sent))
	}
	if status := loadTask(t, db, task.ID).Status; status != models.OutboxCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestOutboxWorker_RetryNotDueSkipped(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{err: errors.New("ses unavailable")}
	worker := NewOutboxWorker(db, mailer, nil, nil, nil, Options{Retry: RetryPolicy{MaxRetries: 3, InitialDelay: time.Hour}}, nil)
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, TaskEmailStatus, testBooking(12)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	stale := task
	worker.processTask(ctx, &task)
	worker.processTask(ctx, &stale)

	if stored := loadTask(t, db, task.ID); stored.RetryCount != 1 {
		t.Fatalf("expected a single attempt before next_retry_at, got %d", stored.RetryCount)
	}
}

func TestOutboxWorker_MissingRowSkipped(t *testing.T) {
	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewOutboxWorker(db, nil, sheets, nil, nil, Options{}, nil)

	task := models.OutboxTask{ID: 999, TaskType: TaskSheetsUpsert, BookingID: 1, Payload: `{"booking":{"id":1}}`}
	worker.processTask(context.Background(), &task)
	if sheets.upsertCalls != 0 {
		t.Fatalf("expected unknown row to be skipped, got %d calls", sheets.upsertCalls)
	}
}

func TestOutboxWorker_EnqueueTask(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, &fakeMailer{}, nil, nil, nil, Options{}, nil)
	ctx := context.Background()

	t.Run("InvalidTaskType", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, "", testBooking(1)); err == nil {
			t.Fatalf("expected error for empty task type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, TaskEmailStatus, nil); err == nil {
			t.Fatalf("expected error for missing booking")
		}
		if err := worker.EnqueueTask(ctx, TaskEmailStatus, &models.Booking{}); err == nil {
			t.Fatalf("expected error for zero booking id")
		}
	})

	t.Run("SkipsUndeliverable", func(t *testing.T) {
		noEmail := testBooking(5)
		noEmail.ClientEmail = ""
		if err := worker.EnqueueTask(ctx, TaskEmailStatus, noEmail); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		// no sheets writer configured
		if err := worker.EnqueueTask(ctx, TaskSheetsUpsert, testBooking(5)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, ok := worker.tryLocalQueue(); ok {
			t.Fatalf("expected skipped tasks to stay out of the queue")
		}
	})

	t.Run("HiddenFromPollingWhileClaimed", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, TaskEmailStatus, testBooking(6)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		pending, err := db.GetPendingOutboxTasks(ctx, 10)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(pending) != 0 {
			t.Fatalf("expected fast-path task to be hidden from polling, got %d", len(pending))
		}
		worker.tryLocalQueue()
	})
}

func TestOutboxWorker_RedisFastPath(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	sheets := &fakeSheets{}
	worker := NewOutboxWorker(db, nil, sheets, nil, client, Options{}, nil)
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, TaskSheetsUpsert, testBooking(7)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected task in redis, not in memory queue")
	}

	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	if task.BookingID != 7 || task.TaskType != TaskSheetsUpsert {
		t.Fatalf("unexpected task %+v", task)
	}
	worker.processTask(ctx, &task)
	if sheets.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", sheets.upsertCalls)
	}
}

func TestOutboxWorker_DeadLetter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	db := newTestDB(t)
	sheets := &fakeSheets{err: errors.New("quota exceeded")}
	worker := NewOutboxWorker(db, nil, sheets, nil, client, Options{Retry: RetryPolicy{MaxRetries: 1}}, nil)
	ctx := context.Background()

	if err := worker.EnqueueTask(ctx, TaskSheetsStatus, testBooking(8)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task from redis")
	}
	worker.processTask(ctx, &task)

	n, err := client.LLen(ctx, worker.deadLetterKey).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dead-letter entry, got %d", n)
	}
}

func TestOutboxWorker_DrainPending(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewOutboxWorker(db, mailer, nil, nil, nil, Options{}, nil)
	ctx := context.Background()

	// задача, потерянная быстрым путём: срок захвата уже истёк
	past := time.Now().Add(-time.Minute)
	task := models.OutboxTask{
		TaskType:    TaskEmailReminder,
		BookingID:   9,
		Payload:     `{"booking":{"id":9,"client_email":"ana@example.com","date":"2025-03-12T11:30:00Z"}}`,
		NextRetryAt: &past,
	}
	if err := db.CreateOutboxTask(ctx, &task); err != nil {
		t.Fatalf("create: %v", err)
	}

	if n := worker.drainPending(ctx); n != 1 {
		t.Fatalf("expected 1 drained task, got %d", n)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected reminder to be sent, got %d", len(mailer.sent))
	}
	if status := loadTask(t, db, task.ID).Status; status != models.OutboxCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
}

func TestOutboxWorker_StartStops(t *testing.T) {
	db := newTestDB(t)
	mailer := &fakeMailer{}
	worker := NewOutboxWorker(db, mailer, nil, nil, nil, Options{PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go worker.Start(ctx)

	if err := worker.EnqueueTask(ctx, TaskEmailStatus, testBooking(10)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for mailer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-worker.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if mailer.count() != 1 {
		t.Fatalf("expected 1 email, got %d", mailer.count())
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  time.Second,
		2:  2 * time.Second,
		3:  4 * time.Second,
		5:  5 * time.Second,
		60: 5 * time.Second,
	}
	for attempt, want := range cases {
		if got := policy.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}

	if got := (RetryPolicy{}).NextDelay(1); got != DefaultRetryPolicy().InitialDelay {
		t.Fatalf("zero policy should use defaults, got %s", got)
	}
}

func TestRetryPolicyExhausted(t *testing.T) {
	policy := RetryPolicy{}.withDefaults()
	if policy.Exhausted(policy.MaxRetries - 1) {
		t.Fatal("budget should not be exhausted before MaxRetries")
	}
	if !policy.Exhausted(policy.MaxRetries) {
		t.Fatal("budget should be exhausted at MaxRetries")
	}
}

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		fmt.Errorf("%w: bogus", ErrUnknownTask),
		ErrMissingBooking,
		notify.ErrNoRecipient,
		&googleapi.Error{Code: http.StatusNotFound},
	}
	for _, err := range permanent {
		if !isPermanent(err) {
			t.Fatalf("expected %v to be permanent", err)
		}
	}

	transient := []error{
		errors.New("connection reset"),
		&googleapi.Error{Code: http.StatusTooManyRequests},
		&googleapi.Error{Code: http.StatusServiceUnavailable},
	}
	for _, err := range transient {
		if isPermanent(err) {
			t.Fatalf("expected %v to be retried", err)
		}
	}
}

func TestDecodePayload(t *testing.T) {
	decoded, err := decodePayload(`{"booking":{"id":123,"status":"confirmed"}}`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Booking == nil || decoded.Booking.ID != 123 || decoded.Booking.Status != "confirmed" {
		t.Fatalf("unexpected decoded payload: %+v", decoded)
	}
	if _, err := decodePayload(`invalid json`); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}

// Helpers

type fakeMailer struct {
	mu   sync.Mutex
	err  error
	sent []notify.Message
}

func (f *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.To == "" {
		return notify.ErrNoRecipient
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSheets struct {
	err         error
	upsertCalls int
	statusCalls int
}

func (f *fakeSheets) UpsertBooking(context.Context, *models.Booking) error {
	f.upsertCalls++
	return f.err
}

func (f *fakeSheets) UpdateBookingStatus(context.Context, int64, string) error {
	f.statusCalls++
	return f.err
}

func (f *fakeSheets) ReplaceBookingsSheet(context.Context, []models.Booking) error {
	return f.err
}

type fakeSlots struct {
	duration int
	err      error
}

func (f fakeSlots) SlotAt(time.Time, string) (models.AvailabilitySlot, error) {
	if f.err != nil {
		return models.AvailabilitySlot{}, f.err
	}
	return models.AvailabilitySlot{Duration: f.duration}, nil
}

type fakeCatalog struct{}

func (fakeCatalog) Service(code string) (models.Service, error) {
	return models.Service{Code: code, Name: "Lavado completo"}, nil
}

func testBooking(id int64) *models.Booking {
	return &models.Booking{
		ID:           id,
		ClientName:   "Ana",
		ClientPhone:  "+573001234567",
		ClientEmail:  "ana@example.com",
		Date:         time.Date(2025, 3, 12, 11, 30, 0, 0, time.UTC),
		VehicleType:  "car",
		VehiclePlate: "ABC123",
		ServiceType:  "full",
		Price:        40000,
		Status:       models.StatusPending,
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(":memory:", nil)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTask(t *testing.T, db *database.DB, id int64) *models.OutboxTask {
	t.Helper()
	task, err := db.GetOutboxTask(context.Background(), id)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	return task
}
