package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Room protocol
	FieldRoomID       = "room_id"
	FieldConnectionID = "connection_id"
	FieldVisitorID    = "visitor_id"
	FieldViewerName   = "viewer_name"
	FieldAction       = "action"
	FieldMessageType  = "message_type"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
