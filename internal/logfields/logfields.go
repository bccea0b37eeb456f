// Package logfields holds the canonical slog attribute keys used across
// StatusPipe so log queries stay stable.
package logfields

import (
	"log/slog"
	"time"
)

const (
	KeyOperation    = "operation"
	KeyFromState    = "from_state"
	KeyToState      = "to_state"
	KeyNotification = "notification_id"
	KeyFireAt       = "fire_at"
	KeyJobID        = "job_id"
	KeyJobKind      = "job_kind"
	KeyMessageID    = "message_id"
	KeyMessageKind  = "message_kind"
	KeySubject      = "subject"
	KeyTopic        = "topic"
	KeyOffset       = "offset"
	KeyMethod       = "method"
	KeyPath         = "path"
	KeyStatus       = "status"
	KeyError        = "error"
)

func Operation(op string) slog.Attr     { return slog.String(KeyOperation, op) }
func FromState(kind string) slog.Attr   { return slog.String(KeyFromState, kind) }
func ToState(kind string) slog.Attr     { return slog.String(KeyToState, kind) }
func Notification(id string) slog.Attr  { return slog.String(KeyNotification, id) }
func FireAt(t time.Time) slog.Attr      { return slog.Time(KeyFireAt, t) }
func JobID(id string) slog.Attr         { return slog.String(KeyJobID, id) }
func JobKind(kind string) slog.Attr     { return slog.String(KeyJobKind, kind) }
func MessageID(id string) slog.Attr     { return slog.String(KeyMessageID, id) }
func MessageKind(kind string) slog.Attr { return slog.String(KeyMessageKind, kind) }
func Subject(subject string) slog.Attr  { return slog.String(KeySubject, subject) }
func Topic(topic string) slog.Attr      { return slog.String(KeyTopic, topic) }
func Offset(offset int64) slog.Attr     { return slog.Int64(KeyOffset, offset) }
func Method(method string) slog.Attr    { return slog.String(KeyMethod, method) }
func Path(path string) slog.Attr        { return slog.String(KeyPath, path) }
func Status(code int) slog.Attr         { return slog.Int(KeyStatus, code) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
