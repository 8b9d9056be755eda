package tailscale

import (
	"encoding/json"
	"fmt"
)

// Credentials identify a tailnet and the API key used to read it.
// Values are immutable once obtained from the pairing step.
type Credentials struct {
	TailnetID string
	APIKey    string
}

// String never includes the API key.
func (c Credentials) String() string {
	return fmt.Sprintf("tailnet=%s", c.TailnetID)
}

// Valid reports whether both fields are set.
func (c Credentials) Valid() bool {
	return c.TailnetID != "" && c.APIKey != ""
}

// DeviceRecord is a device as returned by the Tailscale API.
//
// The API reports the stable node identifier as "nodeId" on most endpoints
// and only the legacy "id" on others; use Key to resolve it.
type DeviceRecord struct {
	ID            string   `json:"id"`
	NodeID        string   `json:"nodeId"`
	Hostname      string   `json:"hostname"`
	Name          string   `json:"name"`
	User          string   `json:"user"`
	OS            string   `json:"os"`
	ClientVersion string   `json:"clientVersion,omitempty"`
	Addresses     []string `json:"addresses"`
	Tags          []string `json:"tags,omitempty"`
	Authorized    bool     `json:"authorized"`

	// LastSeen is the timestamp text as sent. A value that is not a JSON
	// string decodes to "", which the online evaluator treats as absent.
	LastSeen string `json:"lastSeen,omitempty"`

	// Online and ConnectedToControl are only present on some endpoints.
	Online             *bool `json:"online,omitempty"`
	ConnectedToControl *bool `json:"connectedToControl,omitempty"`
}

// UnmarshalJSON decodes a device without letting a malformed lastSeen fail
// the whole record (and with it the whole device list).
func (d *DeviceRecord) UnmarshalJSON(data []byte) error {
	type plain DeviceRecord
	aux := struct {
		*plain
		LastSeen json.RawMessage `json:"lastSeen"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.LastSeen = timestampText(aux.LastSeen)
	return nil
}

// timestampText returns raw as a string when it is a JSON string, else "".
func timestampText(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// Key returns the node ID, falling back to the legacy ID field.
func (d DeviceRecord) Key() string {
	if d.NodeID != "" {
		return d.NodeID
	}
	return d.ID
}

// DisplayName returns the hostname, then the MagicDNS name, then the key.
func (d DeviceRecord) DisplayName() string {
	switch {
	case d.Hostname != "":
		return d.Hostname
	case d.Name != "":
		return d.Name
	default:
		return d.Key()
	}
}

// ReportedOnline returns the explicit online flag when the API sent one.
func (d DeviceRecord) ReportedOnline() (online bool, ok bool) {
	switch {
	case d.Online != nil:
		return *d.Online, true
	case d.ConnectedToControl != nil:
		return *d.ConnectedToControl, true
	default:
		return false, false
	}
}

// Routes are the subnet routes of a device.
type Routes struct {
	AdvertisedRoutes []string `json:"advertisedRoutes"`
	EnabledRoutes    []string `json:"enabledRoutes"`
}

// User is a member of a tailnet.
type User struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	LoginName     string `json:"loginName"`
	ProfilePicURL string `json:"profilePicUrl,omitempty"`
	Role          string `json:"role"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	DeviceCount   int    `json:"deviceCount"`
	LastSeen      string `json:"lastSeen,omitempty"`
}

// UnmarshalJSON tolerates a malformed lastSeen the same way DeviceRecord does.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	aux := struct {
		*plain
		LastSeen json.RawMessage `json:"lastSeen"`
	}{plain: (*plain)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.LastSeen = timestampText(aux.LastSeen)
	return nil
}

// deviceList is the envelope of GET /tailnet/{id}/devices.
type deviceList struct {
	Devices []DeviceRecord `json:"devices"`
}

// userList is the envelope of GET /tailnet/{id}/users.
type userList struct {
	Users []User `json:"users"`
}
