package messaging

// Subjects follow {domain}.{resource}.{qualifier}.
const (
	// SubjectAcksPrefix is the root of per-category acknowledgement subjects.
	SubjectAcksPrefix = "drc.acks"
	// SubjectAcksAll matches every category's acknowledgements.
	SubjectAcksAll = SubjectAcksPrefix + ".*"

	// SubjectRunsCompleted carries a run report after each batch.
	SubjectRunsCompleted = "drc.runs.completed"

	// SubjectDLQPrefix is the root of dead-letter subjects.
	SubjectDLQPrefix = "drc.dlq"
	SubjectDLQAll    = SubjectDLQPrefix + ".>"
)

// QueueAckWorkers is the queue group shared by acknowledgement consumers so
// each acknowledgement is written once across replicas.
const QueueAckWorkers = "drc-ack-workers"

// HeaderRequestID carries a correlation id across the bus.
const HeaderRequestID = "X-Request-ID"

// AckSubject returns the acknowledgement subject for a record category.
// Example: drc.acks.fdc
func AckSubject(category string) string {
	return SubjectAcksPrefix + "." + category
}

// DLQSubject returns the dead-letter subject for a failure reason.
// Example: drc.dlq.rejected
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + "." + reason
}
