package builtin

import "github.com/haasonsaas/chatline/internal/tools"

// UserLocationInput is empty; the front-end answers from the device.
type UserLocationInput struct{}

// UserLocation is resolved by the client, so it has no executor.
func UserLocation() tools.Definition {
	return tools.Definition{
		Name:        "get_user_location",
		Description: "Ask the user's device for its current location. The client supplies the result.",
		InputSchema: tools.SchemaFor(&UserLocationInput{}),
	}
}
