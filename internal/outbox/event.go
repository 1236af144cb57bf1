package outbox

// Event is the domain event envelope written to the outbox table in the
// same transaction as the mutation it describes. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Appointment lifecycle event types. Consumers deduplicate on the event_id
// header; delivery is at-least-once.
const (
	EventAppointmentCreated   = "booking.appointment.created.v1"
	EventAppointmentConfirmed = "booking.appointment.confirmed.v1"
	EventAppointmentCancelled = "booking.appointment.cancelled.v1"
	EventAppointmentCompleted = "booking.appointment.completed.v1"
	EventAppointmentNoShow    = "booking.appointment.no_show.v1"
	EventAppointmentDeleted   = "booking.appointment.deleted.v1"
)
