package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spitit-app/backend/internal/entries"
	"github.com/spitit-app/backend/internal/summaries"
	"github.com/spitit-app/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "spitit_user_id"

var (
	errMissingTokenManager     = errors.New("token manager dependency required")
	errMissingUsersService     = errors.New("users service dependency required")
	errMissingEntriesService   = errors.New("entries service dependency required")
	errMissingSummariesService = errors.New("summaries service dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates bearer tokens for registered users.
type TokenManager interface {
	IssueToken(ctx context.Context, userID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	TokenManager     TokenManager
	UsersService     *users.Service
	EntriesService   *entries.Service
	SummariesService *summaries.Service
	Logger           *zap.Logger
}

// NewHTTPHandler builds the gin router for the SpitIt API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.EntriesService == nil {
		return nil, errMissingEntriesService
	}
	if deps.SummariesService == nil {
		return nil, errMissingSummariesService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		users:     deps.UsersService,
		entries:   deps.EntriesService,
		summaries: deps.SummariesService,
		logger:    logger,
	}

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/profile", handler.handleProfile)

	api := protected.Group("/api")
	api.GET("/spits", handler.handleListSpits)
	api.GET("/spits/today", handler.handleTodaySpits)
	api.GET("/spits/stats", handler.handleSpitStats)
	api.POST("/spits", handler.handleCreateSpit)
	api.PUT("/spits/:id", handler.handleUpdateSpit)
	api.DELETE("/spits/:id", handler.handleDeleteSpit)

	api.GET("/summaries/latest", handler.handleLatestSummary)
	api.GET("/summaries/today", handler.handleTodaysSummary)
	api.GET("/summaries/all", handler.handleAllSummaries)
	api.GET("/summaries/unsummarized-count", handler.handleUnsummarizedCount)
	api.POST("/summaries/generate", handler.handleGenerateSummary)

	return router, nil
}

type httpHandler struct {
	tokens    TokenManager
	users     *users.Service
	entries   *entries.Service
	summaries *summaries.Service
	logger    *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	userID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// ---------------- Auth ----------------

type registerRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type authResponsePayload struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   int64       `json:"expires_in"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		Email:    request.Email,
		Password: request.Password,
		Name:     request.Name,
	})
	if err != nil {
		switch {
		case errors.Is(err, users.ErrEmailTaken):
			c.JSON(http.StatusBadRequest, gin.H{"error": "email_taken"})
		case errors.Is(err, users.ErrInvalidRegistration):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_registration"})
		default:
			h.logger.Error("registration failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		}
		return
	}

	h.respondWithToken(c, http.StatusCreated, user)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithToken(c, http.StatusOK, user)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, user users.User) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), user.UserID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        userPayload{ID: user.UserID, Email: user.Email, Name: user.DisplayName},
	})
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return
		}
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "profile_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": userPayload{ID: user.UserID, Email: user.Email, Name: user.DisplayName}})
}

// ---------------- Spits ----------------

type filePayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	Data string `json:"data"`
}

type locationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type spitPayload struct {
	ID           string           `json:"id"`
	Content      string           `json:"content"`
	Mood         string           `json:"mood"`
	Files        []filePayload    `json:"files"`
	Location     *locationPayload `json:"location,omitempty"`
	Timestamp    string           `json:"timestamp"`
	IsSummarized bool             `json:"isSummarized"`
}

type createSpitPayload struct {
	Content  string           `json:"content"`
	Mood     string           `json:"mood"`
	Files    []filePayload    `json:"files"`
	Location *locationPayload `json:"location"`
}

type updateSpitPayload struct {
	Content string `json:"content"`
}

func toSpitPayload(entry entries.Entry) spitPayload {
	files := make([]filePayload, 0, len(entry.Attachments))
	for _, attachment := range entry.Attachments {
		files = append(files, filePayload{
			Name: attachment.Name,
			Type: attachment.MediaType,
			Size: attachment.ByteSize,
			Data: attachment.Data,
		})
	}
	payload := spitPayload{
		ID:           entry.EntryID,
		Content:      entry.Content,
		Mood:         string(entry.Mood),
		Files:        files,
		Timestamp:    entry.Timestamp().Format(time.RFC3339),
		IsSummarized: entry.Consumed,
	}
	if entry.Location != nil {
		payload.Location = &locationPayload{Lat: entry.Location.Lat, Lng: entry.Location.Lng}
	}
	return payload
}

func toSpitPayloads(batch []entries.Entry) []spitPayload {
	payloads := make([]spitPayload, 0, len(batch))
	for _, entry := range batch {
		payloads = append(payloads, toSpitPayload(entry))
	}
	return payloads
}

func (h *httpHandler) handleCreateSpit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request createSpitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	attachments := make([]entries.Attachment, 0, len(request.Files))
	for _, file := range request.Files {
		attachments = append(attachments, entries.Attachment{
			Name:      file.Name,
			MediaType: file.Type,
			ByteSize:  file.Size,
			Data:      file.Data,
		})
	}
	var location *entries.Location
	if request.Location != nil {
		location = &entries.Location{Lat: request.Location.Lat, Lng: request.Location.Lng}
	}

	entry, err := h.entries.Create(c.Request.Context(), entries.CreateRequest{
		UserID:      userID,
		Content:     request.Content,
		Mood:        request.Mood,
		Attachments: attachments,
		Location:    location,
	})
	if err != nil {
		h.respondSpitError(c, err, "create spit failed")
		return
	}
	c.JSON(http.StatusCreated, toSpitPayload(entry))
}

func (h *httpHandler) handleListSpits(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", 50)

	batch, pagination, err := h.entries.List(c.Request.Context(), userID, page, limit)
	if err != nil {
		h.respondSpitError(c, err, "list spits failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"spits": toSpitPayloads(batch),
		"pagination": gin.H{
			"current":    pagination.Current,
			"total":      pagination.TotalPages,
			"count":      pagination.Count,
			"totalCount": pagination.TotalCount,
		},
	})
}

func (h *httpHandler) handleTodaySpits(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	batch, err := h.entries.ListToday(c.Request.Context(), userID, c.Query("timezone"))
	if err != nil {
		h.respondSpitError(c, err, "today spits failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"spits": toSpitPayloads(batch)})
}

func (h *httpHandler) handleSpitStats(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	stats, err := h.entries.Stats(c.Request.Context(), userID, c.Query("timezone"))
	if err != nil {
		h.respondSpitError(c, err, "spit stats failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"totalSpits":      stats.TotalCount,
		"todaysSpits":     stats.TodayCount,
		"locationCount":   stats.LocationCount,
		"attachmentCount": stats.AttachmentCount,
	})
}

func (h *httpHandler) handleUpdateSpit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request updateSpitPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.entries.UpdateContent(c.Request.Context(), userID, c.Param("id"), request.Content)
	if err != nil {
		h.respondSpitError(c, err, "update spit failed")
		return
	}
	c.JSON(http.StatusOK, toSpitPayload(entry))
}

func (h *httpHandler) handleDeleteSpit(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.entries.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondSpitError(c, err, "delete spit failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "spit deleted"})
}

func (h *httpHandler) respondSpitError(c *gin.Context, err error, logMessage string) {
	switch {
	case errors.Is(err, entries.ErrEntryLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "entry_locked"})
	case errors.Is(err, entries.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "spit_not_found"})
	case errors.Is(err, entries.ErrInvalidContent):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_content"})
	case errors.Is(err, entries.ErrInvalidMood):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_mood"})
	case errors.Is(err, entries.ErrInvalidLocation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_location"})
	case errors.Is(err, entries.ErrInvalidTimezone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
	default:
		h.logger.Error(logMessage, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// ---------------- Summaries ----------------

type moodStatPayload struct {
	Mood       string `json:"mood"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

type locationPointPayload struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	SpitID string  `json:"spitId"`
}

type summaryPayload struct {
	ID              string                 `json:"id"`
	Date            string                 `json:"date"`
	Timezone        string                 `json:"timezone"`
	Summary         string                 `json:"summary"`
	SpitsCount      int                    `json:"spitsCount"`
	MoodAnalysis    []moodStatPayload      `json:"moodAnalysis"`
	LocationCount   int                    `json:"locationCount"`
	AttachmentCount int                    `json:"attachmentCount"`
	SummarizedSpits []string               `json:"summarizedSpits"`
	Locations       []locationPointPayload `json:"locations"`
	CreatedAt       string                 `json:"createdAt"`
}

func toSummaryPayload(record summaries.Summary) summaryPayload {
	moodAnalysis := make([]moodStatPayload, 0, len(record.MoodStats))
	for _, stat := range record.MoodStats {
		moodAnalysis = append(moodAnalysis, moodStatPayload{
			Mood:       string(stat.Mood),
			Count:      stat.Count,
			Percentage: stat.Percentage,
		})
	}
	locations := make([]locationPointPayload, 0, len(record.Locations))
	for _, point := range record.Locations {
		locations = append(locations, locationPointPayload{
			Lat:    point.Lat,
			Lng:    point.Lng,
			SpitID: point.EntryID,
		})
	}
	return summaryPayload{
		ID:              record.SummaryID,
		Date:            record.Date().Format(time.RFC3339),
		Timezone:        record.Timezone,
		Summary:         record.Narrative,
		SpitsCount:      record.EntryCount,
		MoodAnalysis:    moodAnalysis,
		LocationCount:   record.LocationCount,
		AttachmentCount: record.AttachmentCount,
		SummarizedSpits: record.EntryIDs,
		Locations:       locations,
		CreatedAt:       record.GeneratedAt().Format(time.RFC3339),
	}
}

func (h *httpHandler) handleLatestSummary(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	record, err := h.summaries.Latest(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, summaries.ErrSummaryNotFound) {
			c.JSON(http.StatusOK, gin.H{"summary": nil})
			return
		}
		h.logger.Error("latest summary failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": toSummaryPayload(record)})
}

func (h *httpHandler) handleTodaysSummary(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	record, err := h.summaries.TodaysSummary(c.Request.Context(), userID, c.Query("timezone"))
	if err != nil {
		switch {
		case errors.Is(err, summaries.ErrSummaryNotFound):
			c.JSON(http.StatusOK, gin.H{"summary": nil})
		case errors.Is(err, entries.ErrInvalidTimezone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		default:
			h.logger.Error("todays summary failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": toSummaryPayload(record)})
}

func (h *httpHandler) handleAllSummaries(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	limit := queryInt(c, "limit", 30)

	records, err := h.summaries.All(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Error("all summaries failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	payloads := make([]summaryPayload, 0, len(records))
	for _, record := range records {
		payloads = append(payloads, toSummaryPayload(record))
	}
	c.JSON(http.StatusOK, gin.H{"summaries": payloads})
}

func (h *httpHandler) handleUnsummarizedCount(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	count, err := h.entries.UnconsumedCount(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("unsummarized count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

type generateSummaryPayload struct {
	Timezone string `json:"timezone"`
	Limit    int    `json:"limit"`
}

func (h *httpHandler) handleGenerateSummary(c *gin.Context) {
	userID := c.GetString(userIDContextKey)

	var request generateSummaryPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	record, err := h.summaries.GenerateSummary(c.Request.Context(), summaries.GenerateRequest{
		UserID:   userID,
		Timezone: request.Timezone,
		Limit:    request.Limit,
	})
	if err != nil {
		switch {
		case errors.Is(err, summaries.ErrNothingToSummarize):
			c.JSON(http.StatusBadRequest, gin.H{"error": "nothing_to_summarize"})
		case errors.Is(err, summaries.ErrAlreadyGeneratedToday):
			response := gin.H{"error": "already_generated_today"}
			if existing, lookupErr := h.summaries.TodaysSummary(c.Request.Context(), userID, request.Timezone); lookupErr == nil {
				response["summary"] = toSummaryPayload(existing)
			}
			c.JSON(http.StatusConflict, response)
		case errors.Is(err, summaries.ErrGenerationFailed):
			h.logger.Error("summary generation failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
		case errors.Is(err, summaries.ErrPersistenceFailed):
			h.logger.Error("summary persistence failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "persistence_failed"})
		case errors.Is(err, entries.ErrInvalidTimezone):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		default:
			h.logger.Error("summary workflow failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": toSummaryPayload(record)})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
