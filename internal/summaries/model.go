package summaries

import (
	"time"

	"github.com/spitit-app/backend/internal/entries"
)

// MoodStat is one slice of the mood distribution for a summarized batch.
// Percentages are rounded to the nearest integer, so the column may drift
// from 100 by one point.
type MoodStat struct {
	Mood       entries.Mood `json:"mood"`
	Count      int          `json:"count"`
	Percentage int          `json:"percentage"`
}

// LocationPoint snapshots one entry's coordinates for the timeline map.
type LocationPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	EntryID string  `json:"spit_id"`
}

// Summary is an immutable AI-generated digest over a batch of spits. Records
// are only ever created by the summary workflow and never mutated afterwards.
type Summary struct {
	SummaryID          string          `gorm:"column:summary_id;primaryKey;size:190;not null"`
	UserID             string          `gorm:"column:user_id;size:190;not null;index:idx_summaries_user_date,priority:1"`
	DateSeconds        int64           `gorm:"column:date_s;not null;index:idx_summaries_user_date,priority:2"`
	GeneratedAtSeconds int64           `gorm:"column:generated_at_s;not null"`
	Timezone           string          `gorm:"column:timezone;size:64;not null;default:'UTC'"`
	Narrative          string          `gorm:"column:narrative;type:text;not null"`
	EntryCount         int             `gorm:"column:entry_count;not null"`
	LocationCount      int             `gorm:"column:location_count;not null;default:0"`
	AttachmentCount    int             `gorm:"column:attachment_count;not null;default:0"`
	MoodStats          []MoodStat      `gorm:"column:mood_stats;type:text;serializer:json"`
	Locations          []LocationPoint `gorm:"column:locations;type:text;serializer:json"`
	EntryIDs           []string        `gorm:"column:entry_ids;type:text;serializer:json"`
}

// TableName provides the explicit table binding for GORM.
func (Summary) TableName() string {
	return "daily_summaries"
}

// Date exposes the nominal period start (local midnight) as a time value.
func (s Summary) Date() time.Time {
	return time.Unix(s.DateSeconds, 0).UTC()
}

// GeneratedAt exposes the generation instant as a time value.
func (s Summary) GeneratedAt() time.Time {
	return time.Unix(s.GeneratedAtSeconds, 0).UTC()
}
