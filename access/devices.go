package access

import (
	"encoding/json"
	"sort"
	"time"
)

// MaxTrustedDevices caps the per-user trusted device list.
const MaxTrustedDevices = 10

// TrustedDevice is one previously 2FA-verified client.
type TrustedDevice struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	Platform   string    `json:"platform,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// ParseDevices decodes the embedded JSON device list of a user document.
// A missing or unparsable list reads as empty, never as an error: a
// corrupt list must not lock anyone out of code-based verification.
func ParseDevices(raw string) []TrustedDevice {
	if raw == "" {
		return nil
	}
	var devices []TrustedDevice
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		return nil
	}
	return devices
}

// EncodeDevices serializes the list for embedding in a user document.
func EncodeDevices(devices []TrustedDevice) string {
	data, err := json.Marshal(devices)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// FindDevice returns the device with the given id, if present.
func FindDevice(devices []TrustedDevice, id string) (TrustedDevice, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return TrustedDevice{}, false
}

// UpsertDevice replaces the device with the same id or appends it, then
// trims the list to MaxTrustedDevices keeping the most recently used.
func UpsertDevice(devices []TrustedDevice, dev TrustedDevice, now time.Time) []TrustedDevice {
	dev.LastUsedAt = now
	out := make([]TrustedDevice, 0, len(devices)+1)
	replaced := false
	for _, d := range devices {
		if d.ID == dev.ID {
			dev.AddedAt = d.AddedAt
			out = append(out, dev)
			replaced = true
			continue
		}
		out = append(out, d)
	}
	if !replaced {
		dev.AddedAt = now
		out = append(out, dev)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	if len(out) > MaxTrustedDevices {
		out = out[:MaxTrustedDevices]
	}
	return out
}

// TouchDevice updates the device's last-used time in place and returns
// the re-sorted list.
func TouchDevice(devices []TrustedDevice, id string, now time.Time) []TrustedDevice {
	for i := range devices {
		if devices[i].ID == id {
			devices[i].LastUsedAt = now
			break
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].LastUsedAt.After(devices[j].LastUsedAt)
	})
	return devices
}

// RemoveDevice deletes the device with the given id, if present.
func RemoveDevice(devices []TrustedDevice, id string) []TrustedDevice {
	out := devices[:0]
	for _, d := range devices {
		if d.ID != id {
			out = append(out, d)
		}
	}
	return out
}
