package hue

import (
	"fmt"

	"github.com/undarez/synexa-sub003/internal/domain"
)

// State is the Hue light state resource written to
// /api/<user>/lights/<id>/state.
type State struct {
	On             *bool `json:"on,omitempty"`
	Bri            *int  `json:"bri,omitempty"` // 1-254
	Hue            *int  `json:"hue,omitempty"` // 0-65535
	Sat            *int  `json:"sat,omitempty"` // 0-254
	CT             *int  `json:"ct,omitempty"`  // mireds
	TransitionTime *int  `json:"transitiontime,omitempty"`
}

// bridgeResult is one element of the bridge's response array.
type bridgeResult struct {
	Success map[string]any `json:"success,omitempty"`
	Error   *bridgeError   `json:"error,omitempty"`
}

type bridgeError struct {
	Type        int    `json:"type"`
	Address     string `json:"address"`
	Description string `json:"description"`
}

// ConvertCommand maps a generic device command onto Hue state fields.
// Straight field mapping, no bridge I/O.
func ConvertCommand(cmd domain.Command) (State, error) {
	var st State
	on := true
	off := false

	switch cmd.Action {
	case "turn_on":
		st.On = &on
	case "turn_off":
		st.On = &off
	case "set_brightness":
		if cmd.Payload.Brightness == nil {
			return State{}, fmt.Errorf("set_brightness requires a brightness value")
		}
		st.On = &on
		bri := scaleBrightness(*cmd.Payload.Brightness)
		st.Bri = &bri
	case "set_color":
		if cmd.Payload.Hue == nil && cmd.Payload.Saturation == nil && cmd.Payload.ColorTemp == nil {
			return State{}, fmt.Errorf("set_color requires hue, saturation or color_temp")
		}
		st.On = &on
		st.Hue = cmd.Payload.Hue
		st.Sat = cmd.Payload.Saturation
		st.CT = cmd.Payload.ColorTemp
	default:
		return State{}, fmt.Errorf("action %q not supported by hue", cmd.Action)
	}

	if cmd.Payload.Duration != nil {
		// Hue transition time is in 100ms units.
		tt := *cmd.Payload.Duration * 10
		st.TransitionTime = &tt
	}
	return st, nil
}

// scaleBrightness maps the generic 0-100 range onto Hue's 1-254.
func scaleBrightness(pct int) int {
	if pct <= 0 {
		return 1
	}
	if pct >= 100 {
		return 254
	}
	return 1 + pct*253/100
}
