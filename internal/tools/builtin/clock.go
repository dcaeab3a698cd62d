package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata" // Embed zone data for minimal images

	"github.com/haasonsaas/chatline/internal/tools"
)

// CurrentTimeInput is the input of get_current_time.
type CurrentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name such as Europe/Berlin; defaults to UTC"`
}

// CurrentTimeOutput is the result of get_current_time.
type CurrentTimeOutput struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

// CurrentTime reports the current time in a time zone.
func CurrentTime(now func() time.Time) tools.Definition {
	if now == nil {
		now = time.Now
	}
	return tools.Definition{
		Name:        "get_current_time",
		Description: "Get the current date and time, optionally in a specific time zone.",
		InputSchema: tools.SchemaFor(&CurrentTimeInput{}),
		Execute: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var in CurrentTimeInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, fmt.Errorf("decode input: %w", err)
				}
			}
			if in.Timezone == "" {
				in.Timezone = "UTC"
			}
			loc, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
			}
			return CurrentTimeOutput{
				Time:     now().In(loc).Format(time.RFC3339),
				Timezone: loc.String(),
			}, nil
		},
	}
}
