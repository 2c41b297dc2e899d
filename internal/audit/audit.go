package audit

import (
	"context"

	"github.com/MayoPickle/tofu-chillsync/pkg/log"
)

// Audit actions.
const (
	ActionCreateRoom  = "room.create"
	ActionJoin        = "room.join"
	ActionRejoin      = "room.rejoin"
	ActionLeave       = "room.leave"
	ActionRename      = "room.rename"
	ActionUploadVideo = "room.upload_video"
)

// FieldDetail carries free-form context for an audit entry.
const FieldDetail = "detail"

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action, roomID, visitorID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldAction, action).
		Str(log.FieldRoomID, roomID).
		Str(log.FieldVisitorID, visitorID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action, roomID, visitorID, detail, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(log.FieldAction, action).
		Str(log.FieldRoomID, roomID).
		Str(log.FieldVisitorID, visitorID).
		Str(FieldDetail, detail).
		Msg(msg)
}
