package protocol

import "time"

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Name string `json:"name"`
}

// UserInfo describes one connected user in an admin listing.
type UserInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	RoomID      string    `json:"room_id,omitempty"`
	InCall      bool      `json:"in_call"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RoomInfo describes one known room in an admin listing.
type RoomInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   int       `json:"members"`
	InCall    int       `json:"in_call"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is a point-in-time copy of the server registry.
type Snapshot struct {
	Users []UserInfo `json:"users"`
	Rooms []RoomInfo `json:"rooms"`
}
