package state

import "github.com/google/uuid"

// DeviceType identifies the kind of client a participant connected with.
type DeviceType string

const (
	DeviceUnknown DeviceType = "unknown"
	DeviceDesktop DeviceType = "desktop"
	DeviceMobile  DeviceType = "mobile"
	DeviceHeadset DeviceType = "headset"
	DeviceBrowser DeviceType = "browser"
)

// CoerceDeviceType returns the device type if it is a known value, or
// DeviceUnknown otherwise. Unrecognized device strings from clients are
// tolerated, not rejected.
func CoerceDeviceType(s string) DeviceType {
	switch d := DeviceType(s); d {
	case DeviceDesktop, DeviceMobile, DeviceHeadset, DeviceBrowser:
		return d
	default:
		return DeviceUnknown
	}
}

// Participant is a user's logical identity inside a room. ID is stable
// across reconnects; SessionID names the current physical connection and
// changes every time the participant reconnects.
type Participant struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Device    DeviceType `json:"device"`
	SessionID string     `json:"sessionId"`
}

// NewParticipant creates a participant, generating an id when none is
// provided and coercing the device type to a known value.
func NewParticipant(id, name string, device DeviceType, sessionID string) Participant {
	if id == "" {
		id = uuid.NewString()
	}
	if device == "" {
		device = DeviceUnknown
	}
	return Participant{ID: id, Name: name, Device: CoerceDeviceType(string(device)), SessionID: sessionID}
}
