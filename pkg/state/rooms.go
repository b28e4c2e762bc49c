package state

import (
	"fmt"
	"strings"
)

const (
	GroupPrefix        = "group:"
	AnnouncementPrefix = "announcement:"
	PairingPrefix      = "qr:"
)

type RoomKind int

const (
	RoomFixed RoomKind = iota
	RoomGroup
	RoomAnnouncement
	RoomPairing
)

func GroupRoom(id string) string        { return GroupPrefix + id }
func AnnouncementRoom(id string) string { return AnnouncementPrefix + id }
func PairingRoom(code string) string    { return PairingPrefix + code }

// ParseRoom classifies roomID. The fixed room must match fixedRoom exactly;
// parametric rooms need a non-empty id after their prefix.
func ParseRoom(roomID, fixedRoom string) (RoomKind, error) {
	switch {
	case roomID == "":
		return 0, fmt.Errorf("room id is empty")
	case roomID == fixedRoom:
		return RoomFixed, nil
	case strings.HasPrefix(roomID, GroupPrefix):
		return parametric(roomID, GroupPrefix, RoomGroup)
	case strings.HasPrefix(roomID, AnnouncementPrefix):
		return parametric(roomID, AnnouncementPrefix, RoomAnnouncement)
	case strings.HasPrefix(roomID, PairingPrefix):
		return parametric(roomID, PairingPrefix, RoomPairing)
	}
	return 0, fmt.Errorf("unknown room '%s'", roomID)
}

func parametric(roomID, prefix string, kind RoomKind) (RoomKind, error) {
	if strings.TrimSpace(strings.TrimPrefix(roomID, prefix)) == "" {
		return 0, fmt.Errorf("room '%s' has an empty id", roomID)
	}
	return kind, nil
}
