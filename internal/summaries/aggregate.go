package summaries

import (
	"math"
	"time"

	"github.com/spitit-app/backend/internal/entries"
)

const dateLabelLayout = "January 2, 2006"

// BatchStats is the aggregate view of a batch of spits. It feeds both the
// generation prompt and the persisted summary record.
type BatchStats struct {
	MoodStats       []MoodStat
	LocationCount   int
	AttachmentCount int
	Locations       []LocationPoint
	DateRangeLabel  string
	Oldest          time.Time
	Newest          time.Time
}

// AggregateBatch computes mood distribution, location and attachment counters,
// and the covered date range for a non-empty batch. The computation is pure:
// mood ordering follows first occurrence in the batch, location snapshots
// preserve batch order, and the attachment counter sums files per entry rather
// than counting entries that carry files.
func AggregateBatch(batch []entries.Entry, location *time.Location) BatchStats {
	stats := BatchStats{
		MoodStats: make([]MoodStat, 0, 4),
		Locations: make([]LocationPoint, 0, len(batch)),
	}

	moodIndex := make(map[entries.Mood]int, 4)
	for _, entry := range batch {
		index, seen := moodIndex[entry.Mood]
		if !seen {
			index = len(stats.MoodStats)
			moodIndex[entry.Mood] = index
			stats.MoodStats = append(stats.MoodStats, MoodStat{Mood: entry.Mood})
		}
		stats.MoodStats[index].Count++

		if entry.Location != nil {
			stats.LocationCount++
			stats.Locations = append(stats.Locations, LocationPoint{
				Lat:     entry.Location.Lat,
				Lng:     entry.Location.Lng,
				EntryID: entry.EntryID,
			})
		}
		stats.AttachmentCount += len(entry.Attachments)

		timestamp := entry.Timestamp()
		if stats.Oldest.IsZero() || timestamp.Before(stats.Oldest) {
			stats.Oldest = timestamp
		}
		if timestamp.After(stats.Newest) {
			stats.Newest = timestamp
		}
	}

	total := len(batch)
	for i := range stats.MoodStats {
		stats.MoodStats[i].Percentage = roundedPercentage(stats.MoodStats[i].Count, total)
	}

	stats.DateRangeLabel = dateRangeLabel(stats.Oldest, stats.Newest, location)
	return stats
}

func roundedPercentage(count, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) / float64(total) * 100))
}

func dateRangeLabel(oldest, newest time.Time, location *time.Location) string {
	localOldest := oldest.In(location)
	localNewest := newest.In(location)
	if sameCalendarDate(localOldest, localNewest) {
		return localNewest.Format(dateLabelLayout)
	}
	return localOldest.Format(dateLabelLayout) + " to " + localNewest.Format(dateLabelLayout)
}

func sameCalendarDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
