package model

import "time"

type User struct {
	ID       string    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// LinkedDevice records a secondary client paired through a primary session.
// UserAgent and IPAddress describe the new device; the Primary fields are
// what the primary connection looked like when it requested the code.
type LinkedDevice struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Label            string    `json:"label"`
	UserAgent        string    `json:"userAgent,omitempty"`
	IPAddress        string    `json:"ipAddress,omitempty"`
	PrimaryUserAgent string    `json:"primaryUserAgent,omitempty"`
	PrimaryIP        string    `json:"primaryIp,omitempty"`
	LinkedAt         time.Time `json:"linkedAt"`
}
