package models

// RoomInfo describes a room for the operator API.
type RoomInfo struct {
	RoomID       string   `json:"roomId"`
	Host         string   `json:"host"`
	Participants []string `json:"participants"`
	Occupancy    int      `json:"occupancy"`
	Full         bool     `json:"full"`
}
