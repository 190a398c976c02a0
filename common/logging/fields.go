package logging

import "log/slog"

// Field names shared by every component so log queries stay stable.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldCategory  = "category"
	FieldBatchID   = "batch_id"
	FieldTraceID   = "trace_id"
	FieldRecordID  = "record_id"
	FieldMaatID    = "maat_id"
	FieldOutcome   = "outcome"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"
	FieldCount     = "count"
	FieldFileName  = "file_name"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldSubject   = "subject"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func Category(c string) slog.Attr {
	return slog.String(FieldCategory, c)
}

func BatchID(id int64) slog.Attr {
	return slog.Int64(FieldBatchID, id)
}

func TraceID(id int64) slog.Attr {
	return slog.Int64(FieldTraceID, id)
}

func RecordID(id int64) slog.Attr {
	return slog.Int64(FieldRecordID, id)
}

func MaatID(id int64) slog.Attr {
	return slog.Int64(FieldMaatID, id)
}

// Outcome returns a slog attribute for a delivery or acknowledgement outcome.
func Outcome(o string) slog.Attr {
	return slog.String(FieldOutcome, o)
}

// Status returns a slog attribute for an HTTP status code.
func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

func Count(n int) slog.Attr {
	return slog.Int(FieldCount, n)
}

func FileName(name string) slog.Attr {
	return slog.String(FieldFileName, name)
}

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Subject(s string) slog.Attr {
	return slog.String(FieldSubject, s)
}

// Error returns a slog attribute for an error. A nil error yields an empty string.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}
