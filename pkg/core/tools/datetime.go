package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTimezone is used when no timezone is configured.
const DefaultTimezone = "America/Los_Angeles"

// friendlyTimezoneNames maps IANA zone identifiers to names that read
// naturally in synthesized speech.
var friendlyTimezoneNames = map[string]string{
	"America/Los_Angeles": "Pacific Time",
	"America/New_York":    "Eastern Time",
	"America/Chicago":     "Central Time",
	"America/Denver":      "Mountain Time",
	"America/Anchorage":   "Alaska Time",
	"Pacific/Honolulu":    "Hawaii Time",
	"UTC":                 "UTC",
}

// FriendlyTimezoneName converts a zone identifier to a speakable name,
// falling back to the identifier itself.
func FriendlyTimezoneName(tz string) string {
	if name, ok := friendlyTimezoneNames[tz]; ok {
		return name
	}
	return tz
}

// DateTimeTool reports the current date and time in the configured
// timezone.
type DateTimeTool struct {
	logger   *slog.Logger
	timezone string
	now      func() time.Time
}

// NewDateTimeTool builds the tool from the dependency struct.
func NewDateTimeTool(deps Deps) *DateTimeTool {
	tz := deps.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	return &DateTimeTool{logger: deps.logger(), timezone: tz, now: deps.now}
}

func (t *DateTimeTool) Name() string { return "getDateTimeTool" }

func (t *DateTimeTool) Description() string {
	return "Get the current date and time. Use this when the caller asks what time it is or what day it is. " +
		"When responding to the caller, only read the 'message' field naturally."
}

func (t *DateTimeTool) InputSchema() string { return EmptySchema }

func (t *DateTimeTool) Invoke(ctx context.Context, toolUseID, args string) (Result, error) {
	loc, err := time.LoadLocation(t.timezone)
	if err != nil {
		t.logger.Error("invalid timezone", "timezone", t.timezone, "error", err)
		return errorResult("Unable to get date and time information"), nil
	}
	now := t.now().In(loc)

	date := now.Format("Monday, January 2, 2006")
	clock := now.Format("3:04 PM")

	return Result{
		"status":   "success",
		"date":     date,
		"time":     clock,
		"timezone": t.timezone,
		"message": fmt.Sprintf("Today is %s and the current time is %s %s",
			date, clock, FriendlyTimezoneName(t.timezone)),
	}, nil
}
