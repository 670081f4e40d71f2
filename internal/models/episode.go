package models

import "time"

// Episode is a client-side album grouping photos by time and location
// proximity. Its timestamp is always the minimum timestamp of its
// photos, and an episode with zero photos does not exist.
type Episode struct {
	ID       EpisodeID `json:"id"`
	ServerID string    `json:"server_id,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"` // unix seconds, earliest photo

	Location  PlaceRef `json:"location,omitempty"`
	Placemark PlaceRef `json:"placemark,omitempty"`

	Photos []PhotoID `json:"photos"`

	Labels Labels `json:"labels"`
}

// Time returns the episode timestamp as time.Time.
func (e *Episode) Time() time.Time { return time.Unix(e.Timestamp, 0) }

// Contains reports whether the episode holds the photo.
func (e *Episode) Contains(id PhotoID) bool {
	for _, pid := range e.Photos {
		if pid == id {
			return true
		}
	}
	return false
}

// Add appends a photo reference if not already present and returns
// whether the episode changed.
func (e *Episode) Add(id PhotoID) bool {
	if e.Contains(id) {
		return false
	}
	e.Photos = append(e.Photos, id)
	return true
}

// Remove drops a photo reference and returns whether the episode
// changed.
func (e *Episode) Remove(id PhotoID) bool {
	for i, pid := range e.Photos {
		if pid == id {
			e.Photos = append(e.Photos[:i], e.Photos[i+1:]...)
			return true
		}
	}
	return false
}
