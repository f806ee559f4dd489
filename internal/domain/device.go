package domain

import "time"

// Device is a registered smart-home endpoint. Provider selects the connector
// used to reach it; BridgeAddress/Credentials/ExternalID are what that
// connector needs to address the physical device.
type Device struct {
	ID            int64
	UserID        int64
	Name          string
	Provider      string // e.g. "hue", "ewelink"; matched case-insensitively
	ExternalID    string // id of the device on the provider's bridge
	BridgeAddress string
	Credentials   string
	Room          string
	LastSeenAt    *time.Time
	CreatedAt     time.Time
}
