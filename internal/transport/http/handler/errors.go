package handler

const (
	errInternalServer       = "Internal server error"
	errTaskNotFound         = "Task not found"
	errEndpointNotFound     = "Endpoint not found"
	errEndpointDisabled     = "Endpoint is disabled"
	errMonitorNotFound      = "Monitor not found"
	errMonitorPaused        = "Monitor is paused"
	errInvalidCronExpr      = "Invalid cron expression"
	errCronIntervalFloor    = "Cron interval is below the tier floor"
	errInvalidURL           = "URL is not permitted"
	errInboundEventNotFound = "Inbound event not found"
	errTaskDeleted          = "One or more tasks in this event were deleted"
)
