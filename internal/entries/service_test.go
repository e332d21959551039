package entries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const serviceTestNow = int64(1700000600) // 2023-11-14 UTC

type sequentialIDGenerator struct {
	prefix string
	next   int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:spitit_entries_%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(serviceTestNow, 0).UTC() },
		IDProvider: &sequentialIDGenerator{prefix: "spit"},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func seedAt(t *testing.T, db *gorm.DB, entryID, userID string, timestamp int64, consumed bool) {
	t.Helper()
	entry := Entry{
		EntryID:          entryID,
		UserID:           userID,
		Content:          "seeded " + entryID,
		Mood:             MoodNeutral,
		Attachments:      []Attachment{},
		TimestampSeconds: timestamp,
		Consumed:         consumed,
	}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("failed to seed %s: %v", entryID, err)
	}
}

func TestCreatePersistsValidatedSpit(t *testing.T) {
	service, _ := newTestService(t)

	entry, err := service.Create(context.Background(), CreateRequest{
		UserID:  "user-1",
		Content: "  trimmed body  ",
		Mood:    "Happy",
		Location: &Location{
			Lat: 40.7128,
			Lng: -74.0060,
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if entry.EntryID == "" {
		t.Fatalf("expected generated identifier")
	}
	if entry.Content != "trimmed body" {
		t.Fatalf("expected trimmed content, got %q", entry.Content)
	}
	if entry.Mood != MoodHappy {
		t.Fatalf("expected happy mood, got %s", entry.Mood)
	}
	if entry.TimestampSeconds != serviceTestNow {
		t.Fatalf("expected clock-stamped timestamp, got %d", entry.TimestampSeconds)
	}
	if entry.Consumed {
		t.Fatalf("new spits must start unconsumed")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	service, _ := newTestService(t)

	testCases := []struct {
		name     string
		request  CreateRequest
		sentinel error
	}{
		{
			name:     "blank content",
			request:  CreateRequest{UserID: "user-1", Content: "   "},
			sentinel: ErrInvalidContent,
		},
		{
			name:     "oversize content",
			request:  CreateRequest{UserID: "user-1", Content: strings.Repeat("x", 181)},
			sentinel: ErrInvalidContent,
		},
		{
			name:     "unknown mood",
			request:  CreateRequest{UserID: "user-1", Content: "fine", Mood: "ecstatic"},
			sentinel: ErrInvalidMood,
		},
		{
			name:     "latitude out of range",
			request:  CreateRequest{UserID: "user-1", Content: "fine", Location: &Location{Lat: 91, Lng: 0}},
			sentinel: ErrInvalidLocation,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := service.Create(context.Background(), testCase.request)
			if !errors.Is(err, testCase.sentinel) {
				t.Fatalf("expected %v, got %v", testCase.sentinel, err)
			}
		})
	}
}

func TestListReturnsNewestFirstWithPagination(t *testing.T) {
	service, db := newTestService(t)

	for i := 0; i < 5; i++ {
		seedAt(t, db, fmt.Sprintf("spit-%d", i), "user-1", serviceTestNow-int64(500-i*10), false)
	}
	seedAt(t, db, "other-1", "user-2", serviceTestNow, false)

	batch, pagination, err := service.List(context.Background(), "user-1", 1, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch) != 2 {
		t.Fatalf("expected 2 entries on page, got %d", len(batch))
	}
	if batch[0].EntryID != "spit-4" || batch[1].EntryID != "spit-3" {
		t.Fatalf("expected newest-first order, got %s, %s", batch[0].EntryID, batch[1].EntryID)
	}
	if pagination.Current != 1 || pagination.TotalPages != 3 || pagination.TotalCount != 5 {
		t.Fatalf("unexpected pagination: %+v", pagination)
	}
}

func TestListTodayBucketsByTimezone(t *testing.T) {
	service, db := newTestService(t)

	// 2023-11-14T22:23:20Z. In New York that is still the 14th, and the UTC
	// early morning of the 14th belongs to the New York 13th.
	seedAt(t, db, "spit-local-today", "user-1", serviceTestNow-3600, false)
	seedAt(t, db, "spit-utc-morning", "user-1", serviceTestNow-72000, false)

	utcBatch, err := service.ListToday(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utcBatch) != 2 {
		t.Fatalf("expected both entries on the UTC day, got %d", len(utcBatch))
	}

	nyBatch, err := service.ListToday(context.Background(), "user-1", "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nyBatch) != 1 || nyBatch[0].EntryID != "spit-local-today" {
		t.Fatalf("expected only the local-today entry, got %+v", nyBatch)
	}

	if _, err := service.ListToday(context.Background(), "user-1", "Not/AZone"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
}

func TestStatsCountsLocationsAndAttachments(t *testing.T) {
	service, db := newTestService(t)

	withExtras := Entry{
		EntryID: "spit-1", UserID: "user-1", Content: "entry",
		Mood:             MoodHappy,
		Location:         &Location{Lat: 51.5, Lng: -0.1},
		Attachments:      []Attachment{{Name: "a.jpg", MediaType: "image/jpeg", ByteSize: 10, Data: "AQID"}},
		TimestampSeconds: serviceTestNow - 100,
	}
	if err := db.Create(&withExtras).Error; err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	seedAt(t, db, "spit-2", "user-1", serviceTestNow-200, false)
	seedAt(t, db, "spit-old", "user-1", serviceTestNow-5*86400, true)

	stats, err := service.Stats(context.Background(), "user-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stats.TotalCount != 3 {
		t.Fatalf("expected total 3, got %d", stats.TotalCount)
	}
	if stats.TodayCount != 2 {
		t.Fatalf("expected 2 entries today, got %d", stats.TodayCount)
	}
	if stats.LocationCount != 1 {
		t.Fatalf("expected 1 located entry, got %d", stats.LocationCount)
	}
	if stats.AttachmentCount != 1 {
		t.Fatalf("expected 1 attachment, got %d", stats.AttachmentCount)
	}
}

func TestUpdateContentRejectsConsumedSpit(t *testing.T) {
	service, db := newTestService(t)
	seedAt(t, db, "spit-1", "user-1", serviceTestNow-100, true)

	_, err := service.UpdateContent(context.Background(), "user-1", "spit-1", "rewritten")
	if !errors.Is(err, ErrEntryLocked) {
		t.Fatalf("expected ErrEntryLocked, got %v", err)
	}

	var reloaded Entry
	if err := db.Where("entry_id = ?", "spit-1").Take(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if reloaded.Content != "seeded spit-1" {
		t.Fatalf("locked spit content must not change, got %q", reloaded.Content)
	}
}

func TestUpdateContentRewritesUnconsumedSpit(t *testing.T) {
	service, db := newTestService(t)
	seedAt(t, db, "spit-1", "user-1", serviceTestNow-100, false)

	updated, err := service.UpdateContent(context.Background(), "user-1", "spit-1", "  rewritten body ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Content != "rewritten body" {
		t.Fatalf("expected trimmed rewrite, got %q", updated.Content)
	}

	if _, err := service.UpdateContent(context.Background(), "user-1", "missing", "body"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
	if _, err := service.UpdateContent(context.Background(), "user-2", "spit-1", "body"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("other users must not see the spit, got %v", err)
	}
}

func TestDeleteRejectsConsumedSpit(t *testing.T) {
	service, db := newTestService(t)
	seedAt(t, db, "spit-1", "user-1", serviceTestNow-100, true)
	seedAt(t, db, "spit-2", "user-1", serviceTestNow-50, false)

	if err := service.Delete(context.Background(), "user-1", "spit-1"); !errors.Is(err, ErrEntryLocked) {
		t.Fatalf("expected ErrEntryLocked, got %v", err)
	}
	if err := service.Delete(context.Background(), "user-1", "spit-2"); err != nil {
		t.Fatalf("unexpected error deleting unconsumed spit: %v", err)
	}

	var count int64
	if err := db.Model(&Entry{}).Where("user_id = ?", "user-1").Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the locked spit to survive, got %d rows", count)
	}
}

func TestFindUnconsumedOrdersNewestFirstAndCaps(t *testing.T) {
	service, db := newTestService(t)

	for i := 0; i < 4; i++ {
		seedAt(t, db, fmt.Sprintf("spit-%d", i), "user-1", serviceTestNow-int64(400-i*10), false)
	}
	seedAt(t, db, "spit-consumed", "user-1", serviceTestNow, true)
	seedAt(t, db, "other-user", "user-2", serviceTestNow, false)

	batch, err := service.FindUnconsumed(context.Background(), "user-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batch) != 3 {
		t.Fatalf("expected capped batch of 3, got %d", len(batch))
	}
	if batch[0].EntryID != "spit-3" || batch[1].EntryID != "spit-2" || batch[2].EntryID != "spit-1" {
		t.Fatalf("expected newest-first order, got %s, %s, %s",
			batch[0].EntryID, batch[1].EntryID, batch[2].EntryID)
	}
	for _, entry := range batch {
		if entry.Consumed {
			t.Fatalf("consumed spit %s leaked into the batch", entry.EntryID)
		}
		if entry.UserID != "user-1" {
			t.Fatalf("foreign spit %s leaked into the batch", entry.EntryID)
		}
	}
}

func TestMarkConsumedSkipsAlreadyConsumedRows(t *testing.T) {
	service, db := newTestService(t)

	seedAt(t, db, "spit-1", "user-1", serviceTestNow-300, false)
	seedAt(t, db, "spit-2", "user-1", serviceTestNow-200, false)
	seedAt(t, db, "spit-3", "user-1", serviceTestNow-100, true)

	flipped, err := service.MarkConsumed(context.Background(), "user-1", []string{"spit-1", "spit-2", "spit-3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flipped != 2 {
		t.Fatalf("expected 2 rows flipped, got %d", flipped)
	}

	flipped, err = service.MarkConsumed(context.Background(), "user-1", []string{"spit-1", "spit-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flipped != 0 {
		t.Fatalf("second pass must flip nothing, got %d", flipped)
	}

	flipped, err = service.MarkConsumed(context.Background(), "user-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flipped != 0 {
		t.Fatalf("empty id list must be a no-op, got %d", flipped)
	}
}

func TestUnconsumedCount(t *testing.T) {
	service, db := newTestService(t)

	seedAt(t, db, "spit-1", "user-1", serviceTestNow-300, false)
	seedAt(t, db, "spit-2", "user-1", serviceTestNow-200, true)
	seedAt(t, db, "spit-3", "user-1", serviceTestNow-100, false)

	count, err := service.UnconsumedCount(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 unconsumed spits, got %d", count)
	}
}
