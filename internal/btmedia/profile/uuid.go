package profile

import (
	"strings"

	"github.com/btmedia/coordinator/internal/btmedia/backend"
)

// Bluetooth SIG 16-bit service class UUIDs for the three profiles the
// lifecycle engine tracks, matched against the 128-bit UUID strings the
// adapter reports by looking at the 16-bit assigned-number segment.
const (
	uuidA2DPSink        = "110b"
	uuidAVRCPController = "110e"
	uuidAVRCPTarget     = "110c"
	uuidHandsfree       = "111e"
	uuidHandsfreeAG     = "111f"
)

// uuidsToProfiles intersects a peer's advertised service UUIDs with
// {A2dpSink, Hfp, AvrcpController}.
func uuidsToProfiles(uuids []string) map[backend.AudioProfile]struct{} {
	out := make(map[backend.AudioProfile]struct{})
	for _, u := range uuids {
		short := strings.ToLower(shortForm(u))
		switch short {
		case uuidA2DPSink:
			out[backend.ProfileA2dpSink] = struct{}{}
		case uuidAVRCPController, uuidAVRCPTarget:
			out[backend.ProfileAvrcpController] = struct{}{}
		case uuidHandsfree, uuidHandsfreeAG:
			out[backend.ProfileHfp] = struct{}{}
		}
	}
	return out
}

// shortForm extracts the 16-bit assigned-number segment from a 128-bit
// Bluetooth base UUID string such as "0000110b-0000-1000-8000-00805f9b34fb",
// or returns the input unchanged if it is already short.
func shortForm(uuid string) string {
	u := strings.ReplaceAll(uuid, "-", "")
	if len(u) == 32 && strings.HasSuffix(u, "1000800000805f9b34fb") {
		return strings.TrimLeft(u[:8], "0")
	}
	return uuid
}
