package model

import "time"

// Pin is a map marker for one discoverable drop.
type Pin struct {
	Key      string   `json:"key"`
	Location Location `json:"location"`
}

// StoredImage is the payload kept for a drop key. Payload is base64 PNG text.
type StoredImage struct {
	Key       string    `json:"key"`
	Payload   string    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GeoEntry is the indexed location of a drop key.
type GeoEntry struct {
	Key       string    `json:"key"`
	Geohash   string    `json:"geohash"`
	Location  Location  `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}
