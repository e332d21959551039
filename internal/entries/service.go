package entries

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEntryNotFound indicates the spit does not exist for the given owner.
	ErrEntryNotFound = errors.New("entries: entry not found")
	// ErrEntryLocked indicates the spit was consumed by a summary and is immutable.
	ErrEntryLocked = errors.New("entries: entry locked by summary")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable machine-checkable code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "entries.service.new"
	opCreate          = "entries.create"
	opList            = "entries.list"
	opListToday       = "entries.list_today"
	opStats           = "entries.stats"
	opUpdateContent   = "entries.update_content"
	opDelete          = "entries.delete"
	opFindUnconsumed  = "entries.find_unconsumed"
	opMarkConsumed    = "entries.mark_consumed"
	opUnconsumedCount = "entries.unconsumed_count"
)

const (
	defaultPageSize   = 50
	defaultFetchLimit = 20
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique identifiers for new spits.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the entry store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists spits and enforces the consumed-entry immutability guard.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService constructs the entry store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateRequest describes a new spit supplied by a client.
type CreateRequest struct {
	UserID      string
	Content     string
	Mood        string
	Attachments []Attachment
	Location    *Location
}

// Create validates and persists a new spit stamped with the current instant.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Entry, error) {
	if request.UserID == "" {
		return Entry{}, newServiceError(opCreate, "missing_user_id", errMissingUserID)
	}

	content, err := NewContent(request.Content)
	if err != nil {
		return Entry{}, newServiceError(opCreate, "invalid_content", err)
	}
	mood, err := ParseMood(request.Mood)
	if err != nil {
		return Entry{}, newServiceError(opCreate, "invalid_mood", err)
	}
	if request.Location != nil {
		if err := request.Location.Validate(); err != nil {
			return Entry{}, newServiceError(opCreate, "invalid_location", err)
		}
	}

	entryID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", request.UserID))
		return Entry{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	attachments := request.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}

	entry := Entry{
		EntryID:          entryID,
		UserID:           request.UserID,
		Content:          content,
		Mood:             mood,
		Attachments:      attachments,
		Location:         request.Location,
		TimestampSeconds: s.clock().UTC().Unix(),
		Consumed:         false,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", request.UserID))
		return Entry{}, newServiceError(opCreate, "insert_failed", err)
	}
	return entry, nil
}

// Pagination describes the page window returned by List.
type Pagination struct {
	Current    int
	TotalPages int
	Count      int
	TotalCount int64
}

// List returns the user's spits newest-first with pagination metadata.
func (s *Service) List(ctx context.Context, userID string, page, limit int) ([]Entry, Pagination, error) {
	if userID == "" {
		return nil, Pagination{}, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		s.logError(opList, "count_failed", err, zap.String("user_id", userID))
		return nil, Pagination{}, newServiceError(opList, "count_failed", err)
	}

	var batch []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp_s DESC, entry_id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&batch).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, Pagination{}, newServiceError(opList, "query_failed", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return batch, Pagination{
		Current:    page,
		TotalPages: totalPages,
		Count:      len(batch),
		TotalCount: total,
	}, nil
}

// ListToday returns spits created today in the user's timezone, newest-first.
func (s *Service) ListToday(ctx context.Context, userID, timezone string) ([]Entry, error) {
	if userID == "" {
		return nil, newServiceError(opListToday, "missing_user_id", errMissingUserID)
	}
	location, err := LoadTimezone(timezone)
	if err != nil {
		return nil, newServiceError(opListToday, "invalid_timezone", err)
	}

	dayStart, dayEnd := DayBounds(s.clock(), location)
	var batch []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND timestamp_s >= ? AND timestamp_s < ?", userID, dayStart.Unix(), dayEnd.Unix()).
		Order("timestamp_s DESC, entry_id DESC").
		Find(&batch).Error; err != nil {
		s.logError(opListToday, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opListToday, "query_failed", err)
	}
	return batch, nil
}

// Stats aggregates feed counters for the profile view.
type Stats struct {
	TotalCount      int64
	TodayCount      int64
	LocationCount   int64
	AttachmentCount int64
}

// Stats computes per-user feed counters. Attachment and location totals are
// derived in process because both live in serialized JSON columns.
func (s *Service) Stats(ctx context.Context, userID, timezone string) (Stats, error) {
	if userID == "" {
		return Stats{}, newServiceError(opStats, "missing_user_id", errMissingUserID)
	}
	location, err := LoadTimezone(timezone)
	if err != nil {
		return Stats{}, newServiceError(opStats, "invalid_timezone", err)
	}

	var all []Entry
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&all).Error; err != nil {
		s.logError(opStats, "query_failed", err, zap.String("user_id", userID))
		return Stats{}, newServiceError(opStats, "query_failed", err)
	}

	dayStart, dayEnd := DayBounds(s.clock(), location)
	stats := Stats{TotalCount: int64(len(all))}
	for _, entry := range all {
		if entry.TimestampSeconds >= dayStart.Unix() && entry.TimestampSeconds < dayEnd.Unix() {
			stats.TodayCount++
		}
		if entry.Location != nil {
			stats.LocationCount++
		}
		stats.AttachmentCount += int64(len(entry.Attachments))
	}
	return stats, nil
}

// UpdateContent replaces the body of an unconsumed spit. Consumed spits are
// immutable and fail with ErrEntryLocked.
func (s *Service) UpdateContent(ctx context.Context, userID, entryID, content string) (Entry, error) {
	if userID == "" {
		return Entry{}, newServiceError(opUpdateContent, "missing_user_id", errMissingUserID)
	}
	newContent, err := NewContent(content)
	if err != nil {
		return Entry{}, newServiceError(opUpdateContent, "invalid_content", err)
	}

	var updated Entry
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Entry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND entry_id = ?", userID, entryID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateContent, "not_found", ErrEntryNotFound)
		}
		if err != nil {
			s.logError(opUpdateContent, "select_failed", err,
				zap.String("user_id", userID), zap.String("entry_id", entryID))
			return newServiceError(opUpdateContent, "select_failed", err)
		}
		if existing.Consumed {
			return newServiceError(opUpdateContent, "entry_locked", ErrEntryLocked)
		}

		existing.Content = newContent
		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpdateContent, "save_failed", err,
				zap.String("user_id", userID), zap.String("entry_id", entryID))
			return newServiceError(opUpdateContent, "save_failed", err)
		}
		updated = existing
		return nil
	})
	if txErr != nil {
		return Entry{}, txErr
	}
	return updated, nil
}

// Delete removes an unconsumed spit. Consumed spits fail with ErrEntryLocked.
func (s *Service) Delete(ctx context.Context, userID, entryID string) error {
	if userID == "" {
		return newServiceError(opDelete, "missing_user_id", errMissingUserID)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Entry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND entry_id = ?", userID, entryID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDelete, "not_found", ErrEntryNotFound)
		}
		if err != nil {
			s.logError(opDelete, "select_failed", err,
				zap.String("user_id", userID), zap.String("entry_id", entryID))
			return newServiceError(opDelete, "select_failed", err)
		}
		if existing.Consumed {
			return newServiceError(opDelete, "entry_locked", ErrEntryLocked)
		}
		if err := tx.Delete(&Entry{}, "user_id = ? AND entry_id = ?", userID, entryID).Error; err != nil {
			s.logError(opDelete, "delete_failed", err,
				zap.String("user_id", userID), zap.String("entry_id", entryID))
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
}

// FindUnconsumed returns spits not yet consumed by any summary, newest-first,
// capped at limit.
func (s *Service) FindUnconsumed(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, newServiceError(opFindUnconsumed, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	var batch []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND consumed = ?", userID, false).
		Order("timestamp_s DESC, entry_id DESC").
		Limit(limit).
		Find(&batch).Error; err != nil {
		s.logError(opFindUnconsumed, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opFindUnconsumed, "query_failed", err)
	}
	return batch, nil
}

// FindUnconsumedBetween is FindUnconsumed restricted to [from, to).
func (s *Service) FindUnconsumedBetween(ctx context.Context, userID string, from, to time.Time, limit int) ([]Entry, error) {
	if userID == "" {
		return nil, newServiceError(opFindUnconsumed, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 {
		limit = defaultFetchLimit
	}

	var batch []Entry
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND consumed = ? AND timestamp_s >= ? AND timestamp_s < ?",
			userID, false, from.Unix(), to.Unix()).
		Order("timestamp_s DESC, entry_id DESC").
		Limit(limit).
		Find(&batch).Error; err != nil {
		s.logError(opFindUnconsumed, "query_failed", err, zap.String("user_id", userID))
		return nil, newServiceError(opFindUnconsumed, "query_failed", err)
	}
	return batch, nil
}

// MarkConsumed flips the consumed flag on the given spits and reports how many
// rows actually changed. The update is conditional on consumed = false so a
// concurrent consumer can never flip the same entry twice.
func (s *Service) MarkConsumed(ctx context.Context, userID string, entryIDs []string) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opMarkConsumed, "missing_user_id", errMissingUserID)
	}
	if len(entryIDs) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ? AND entry_id IN ? AND consumed = ?", userID, entryIDs, false).
		Update("consumed", true)
	if result.Error != nil {
		s.logError(opMarkConsumed, "update_failed", result.Error, zap.String("user_id", userID))
		return 0, newServiceError(opMarkConsumed, "update_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// UnconsumedCount reports how many spits are still eligible for summarization.
func (s *Service) UnconsumedCount(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, newServiceError(opUnconsumedCount, "missing_user_id", errMissingUserID)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Entry{}).
		Where("user_id = ? AND consumed = ?", userID, false).
		Count(&count).Error; err != nil {
		s.logError(opUnconsumedCount, "count_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opUnconsumedCount, "count_failed", err)
	}
	return count, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("entries service error", attrs...)
}
