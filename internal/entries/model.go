package entries

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Mood classifies the emotional tone of a spit.
type Mood string

const (
	MoodHappy      Mood = "happy"
	MoodNeutral    Mood = "neutral"
	MoodFrustrated Mood = "frustrated"
	MoodInspired   Mood = "inspired"
)

const (
	maxContentLength    = 180
	maxIdentifierLength = 190
)

var (
	// ErrInvalidContent indicates the spit body is empty or exceeds the length cap.
	ErrInvalidContent = errors.New("entries: invalid content")
	// ErrInvalidMood indicates the mood is not part of the closed enumeration.
	ErrInvalidMood = errors.New("entries: invalid mood")
	// ErrInvalidLocation indicates coordinates outside the valid lat/lng ranges.
	ErrInvalidLocation = errors.New("entries: invalid location")
	// ErrInvalidTimezone indicates an unrecognized IANA timezone name.
	ErrInvalidTimezone = errors.New("entries: invalid timezone")
)

// ParseMood validates raw input against the mood enumeration. Empty input
// falls back to neutral, matching the behavior expected by older clients.
func ParseMood(rawInput string) (Mood, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	switch trimmed {
	case "":
		return MoodNeutral, nil
	case string(MoodHappy):
		return MoodHappy, nil
	case string(MoodNeutral):
		return MoodNeutral, nil
	case string(MoodFrustrated):
		return MoodFrustrated, nil
	case string(MoodInspired):
		return MoodInspired, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMood, rawInput)
	}
}

// NewContent trims and validates a spit body.
func NewContent(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidContent)
	}
	if utf8.RuneCountInString(trimmed) > maxContentLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidContent, maxContentLength)
	}
	return trimmed, nil
}

// Location is an optional coordinate attached to a spit.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidLocation, l.Lat)
	}
	if l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidLocation, l.Lng)
	}
	return nil
}

// Attachment carries an uploaded file inline, base64 encoded by the client.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"type"`
	ByteSize  int64  `json:"size"`
	Data      string `json:"data"`
}

// Entry models a persisted spit. Once the consumed flag is set by the summary
// workflow the row is immutable: edit and delete are rejected.
type Entry struct {
	EntryID          string       `gorm:"column:entry_id;primaryKey;size:190;not null"`
	UserID           string       `gorm:"column:user_id;size:190;not null;index:idx_spits_user_time,priority:1;index:idx_spits_user_consumed,priority:1"`
	Content          string       `gorm:"column:content;size:180;not null"`
	Mood             Mood         `gorm:"column:mood;size:16;not null;default:'neutral'"`
	Attachments      []Attachment `gorm:"column:attachments;type:text;serializer:json"`
	Location         *Location    `gorm:"column:location;type:text;serializer:json"`
	TimestampSeconds int64        `gorm:"column:timestamp_s;not null;index:idx_spits_user_time,priority:2"`
	Consumed         bool         `gorm:"column:consumed;not null;default:false;index:idx_spits_user_consumed,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Entry) TableName() string {
	return "spits"
}

// Timestamp exposes the creation instant as a time value.
func (e Entry) Timestamp() time.Time {
	return time.Unix(e.TimestampSeconds, 0).UTC()
}
