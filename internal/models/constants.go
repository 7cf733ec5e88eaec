package models

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

const (
	// DefaultSlotDuration длительность одного окна записи в минутах
	DefaultSlotDuration = 90

	// DefaultMaxBookingDays насколько далеко вперёд можно записаться
	DefaultMaxBookingDays = 60

	// OutboxQueueSize размер очереди воркера
	OutboxQueueSize = 128

	// RateLimitBookings количество заявок с одного клиента в окне
	RateLimitBookings = 5

	// RateLimitWindow окно ограничения частоты заявок
	RateLimitWindow = 60 * 60 // 1 час в секундах
)

var statusTransitions = map[string][]string{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
