package summaries

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spitit-app/backend/internal/entries"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNothingToSummarize indicates no eligible spits exist for the request.
	ErrNothingToSummarize = errors.New("summaries: nothing to summarize")
	// ErrAlreadyGeneratedToday indicates a daily-mode summary already covers today.
	ErrAlreadyGeneratedToday = errors.New("summaries: summary already generated today")
	// ErrGenerationFailed indicates the external text-generation call failed.
	// No state has been persisted when this error is returned.
	ErrGenerationFailed = errors.New("summaries: narrative generation failed")
	// ErrPersistenceFailed indicates a store write failed during the workflow.
	ErrPersistenceFailed = errors.New("summaries: persistence failed")
	// ErrSummaryNotFound indicates no summary matches the query.
	ErrSummaryNotFound = errors.New("summaries: summary not found")

	errMissingDatabase    = errors.New("database handle is required")
	errMissingEntrySource = errors.New("entry source is required")
	errMissingGenerator   = errors.New("narrative generator is required")
	errMissingIDProvider  = errors.New("id provider is required")
	errMissingUserID      = errors.New("user identifier is required")
	noOpLogger            = zap.NewNop()
)

// Mode selects which spits a generate request may consume.
type Mode string

const (
	// ModeBacklog summarizes the whole unconsumed backlog, any number of
	// times per day.
	ModeBacklog Mode = "backlog"
	// ModeDaily restricts summarization to today's spits and allows at most
	// one summary per calendar day.
	ModeDaily Mode = "daily"
)

// ParseMode validates a configured mode string. Empty input selects backlog.
func ParseMode(rawInput string) (Mode, error) {
	switch Mode(rawInput) {
	case "", ModeBacklog:
		return ModeBacklog, nil
	case ModeDaily:
		return ModeDaily, nil
	default:
		return "", fmt.Errorf("summaries: unknown mode %q", rawInput)
	}
}

const (
	defaultBatchLimit      = 20
	defaultAllSummariesCap = 30
)

const (
	opWorkflowNew   = "summaries.workflow.new"
	opGenerate      = "summaries.generate"
	opLatest        = "summaries.latest"
	opAll           = "summaries.all"
	opFindByDate    = "summaries.find_by_date"
	opTodaysSummary = "summaries.todays_summary"
)

// EntrySource is the slice of the entry store the workflow depends on.
type EntrySource interface {
	FindUnconsumed(ctx context.Context, userID string, limit int) ([]entries.Entry, error)
	FindUnconsumedBetween(ctx context.Context, userID string, from, to time.Time, limit int) ([]entries.Entry, error)
	MarkConsumed(ctx context.Context, userID string, entryIDs []string) (int64, error)
}

// NarrativeGenerator turns a prompt into generated prose via the external
// text-generation service.
type NarrativeGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// IDProvider issues unique identifiers for new summaries.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the workflow dependencies.
type ServiceConfig struct {
	Database   *gorm.DB
	Entries    EntrySource
	Generator  NarrativeGenerator
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	BatchLimit int
	Mode       Mode
}

// Service orchestrates summary generation and owns the summary store.
//
// Generation is serialized per user with an in-process mutex so two concurrent
// generate requests can never consume overlapping spit batches. The mark
// consumed step is additionally conditional on consumed = false and the
// flipped row count is verified against the batch size.
type Service struct {
	db         *gorm.DB
	entries    EntrySource
	generator  NarrativeGenerator
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	batchLimit int
	mode       Mode

	userLocks sync.Map
}

// NewService constructs the summary workflow.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opWorkflowNew, errMissingDatabase)
	}
	if cfg.Entries == nil {
		return nil, fmt.Errorf("%s: %w", opWorkflowNew, errMissingEntrySource)
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("%s: %w", opWorkflowNew, errMissingGenerator)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("%s: %w", opWorkflowNew, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	batchLimit := cfg.BatchLimit
	if batchLimit <= 0 {
		batchLimit = defaultBatchLimit
	}
	mode := cfg.Mode
	if mode == "" {
		mode = ModeBacklog
	}

	return &Service{
		db:         cfg.Database,
		entries:    cfg.Entries,
		generator:  cfg.Generator,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		batchLimit: batchLimit,
		mode:       mode,
	}, nil
}

// GenerateRequest describes one summary generation invocation.
type GenerateRequest struct {
	UserID   string
	Timezone string
	Limit    int
}

// GenerateSummary runs the full workflow: fetch unconsumed spits, aggregate,
// generate the narrative, persist the summary record, then mark the batch
// consumed. The summary row is always created before any spit is flagged, so
// a late failure can leave a summary over still-unconsumed spits (logged and
// surfaced as ErrPersistenceFailed) but never spits silently dropped from
// every future summary.
func (s *Service) GenerateSummary(ctx context.Context, request GenerateRequest) (Summary, error) {
	if request.UserID == "" {
		return Summary{}, fmt.Errorf("%s: %w", opGenerate, errMissingUserID)
	}
	location, err := entries.LoadTimezone(request.Timezone)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opGenerate, err)
	}
	timezone := request.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	limit := request.Limit
	if limit <= 0 {
		limit = s.batchLimit
	}

	lock := s.lockFor(request.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock().UTC()

	var batch []entries.Entry
	if s.mode == ModeDaily {
		dayStart, dayEnd := entries.DayBounds(now, location)
		_, err := s.FindByUserAndDate(ctx, request.UserID, dayStart)
		if err == nil {
			return Summary{}, fmt.Errorf("%s: %w", opGenerate, ErrAlreadyGeneratedToday)
		}
		if !errors.Is(err, ErrSummaryNotFound) {
			return Summary{}, err
		}
		batch, err = s.entries.FindUnconsumedBetween(ctx, request.UserID, dayStart, dayEnd, limit)
		if err != nil {
			return Summary{}, fmt.Errorf("%s: fetch failed: %w", opGenerate, err)
		}
	} else {
		batch, err = s.entries.FindUnconsumed(ctx, request.UserID, limit)
		if err != nil {
			return Summary{}, fmt.Errorf("%s: fetch failed: %w", opGenerate, err)
		}
	}

	if len(batch) == 0 {
		return Summary{}, fmt.Errorf("%s: %w", opGenerate, ErrNothingToSummarize)
	}

	stats := AggregateBatch(batch, location)
	prompt := BuildPrompt(stats, batch)

	narrative, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.logger.Error("narrative generation failed",
			zap.String("operation", opGenerate),
			zap.String("user_id", request.UserID),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return Summary{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	summaryID, err := s.idProvider.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("%s: id generation failed: %w", opGenerate, err)
	}

	// Nominal date: newest spit's calendar date, normalized to local midnight.
	summaryDate := localMidnight(stats.Newest, location)

	record := Summary{
		SummaryID:          summaryID,
		UserID:             request.UserID,
		DateSeconds:        summaryDate.Unix(),
		GeneratedAtSeconds: now.Unix(),
		Timezone:           timezone,
		Narrative:          narrative,
		EntryCount:         len(batch),
		LocationCount:      stats.LocationCount,
		AttachmentCount:    stats.AttachmentCount,
		MoodStats:          stats.MoodStats,
		Locations:          stats.Locations,
		EntryIDs:           entryIDsOldestFirst(batch),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logger.Error("summary insert failed",
			zap.String("operation", opGenerate),
			zap.String("user_id", request.UserID),
			zap.Error(err))
		return Summary{}, fmt.Errorf("%w: summary insert: %v", ErrPersistenceFailed, err)
	}

	flipped, err := s.entries.MarkConsumed(ctx, request.UserID, record.EntryIDs)
	if err != nil {
		// The summary row exists but its spits are still unconsumed. This is
		// the documented reconciliation gap; do not retry automatically.
		s.logger.Error("summary persisted but spits not marked consumed",
			zap.String("operation", opGenerate),
			zap.String("user_id", request.UserID),
			zap.String("summary_id", record.SummaryID),
			zap.Error(err))
		return Summary{}, fmt.Errorf("%w: mark consumed: %v", ErrPersistenceFailed, err)
	}
	if flipped != int64(len(batch)) {
		s.logger.Warn("consumed count mismatch, summary is suspect",
			zap.String("operation", opGenerate),
			zap.String("user_id", request.UserID),
			zap.String("summary_id", record.SummaryID),
			zap.Int64("flipped", flipped),
			zap.Int("batch_size", len(batch)))
	}

	return record, nil
}

// Latest returns the most recent summary for the user.
func (s *Service) Latest(ctx context.Context, userID string) (Summary, error) {
	if userID == "" {
		return Summary{}, fmt.Errorf("%s: %w", opLatest, errMissingUserID)
	}

	var record Summary
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("generated_at_s DESC, summary_id DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, fmt.Errorf("%s: %w", opLatest, ErrSummaryNotFound)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opLatest, err)
	}
	return record, nil
}

// All returns the user's summaries for the timeline, newest-first.
func (s *Service) All(ctx context.Context, userID string, limit int) ([]Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%s: %w", opAll, errMissingUserID)
	}
	if limit <= 0 {
		limit = defaultAllSummariesCap
	}

	var records []Summary
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("generated_at_s DESC, summary_id DESC").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", opAll, err)
	}
	return records, nil
}

// FindByUserAndDate returns the summary whose nominal date equals the given
// local midnight.
func (s *Service) FindByUserAndDate(ctx context.Context, userID string, date time.Time) (Summary, error) {
	if userID == "" {
		return Summary{}, fmt.Errorf("%s: %w", opFindByDate, errMissingUserID)
	}

	var record Summary
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date_s = ?", userID, date.Unix()).
		Order("generated_at_s DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, fmt.Errorf("%s: %w", opFindByDate, ErrSummaryNotFound)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opFindByDate, err)
	}
	return record, nil
}

// TodaysSummary returns the summary covering today in the user's timezone.
func (s *Service) TodaysSummary(ctx context.Context, userID, timezone string) (Summary, error) {
	if userID == "" {
		return Summary{}, fmt.Errorf("%s: %w", opTodaysSummary, errMissingUserID)
	}
	location, err := entries.LoadTimezone(timezone)
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opTodaysSummary, err)
	}

	dayStart, dayEnd := entries.DayBounds(s.clock(), location)
	var record Summary
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND date_s >= ? AND date_s < ?", userID, dayStart.Unix(), dayEnd.Unix()).
		Order("generated_at_s DESC, summary_id DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, fmt.Errorf("%s: %w", opTodaysSummary, ErrSummaryNotFound)
	}
	if err != nil {
		return Summary{}, fmt.Errorf("%s: %w", opTodaysSummary, err)
	}
	return record, nil
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	value, _ := s.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func localMidnight(at time.Time, location *time.Location) time.Time {
	local := at.In(location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
}

func entryIDsOldestFirst(batch []entries.Entry) []string {
	ordered := make([]entries.Entry, len(batch))
	copy(ordered, batch)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TimestampSeconds < ordered[j].TimestampSeconds
	})
	ids := make([]string, 0, len(ordered))
	for _, entry := range ordered {
		ids = append(ids, entry.EntryID)
	}
	return ids
}
