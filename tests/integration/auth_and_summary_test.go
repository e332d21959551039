package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/spitit-app/backend/internal/auth"
	"github.com/spitit-app/backend/internal/entries"
	"github.com/spitit-app/backend/internal/llm"
	"github.com/spitit-app/backend/internal/server"
	"github.com/spitit-app/backend/internal/summaries"
	"github.com/spitit-app/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	signingSecret   = "integration-secret"
	jsonContentType = "application/json"
)

func TestAuthAndSummaryFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", jsonContentType)
		w.Write([]byte(`{"choices":[{"message":{"content":"three thoughts, mostly upbeat"}}]}`)) //nolint:errcheck
	}))
	defer upstream.Close()

	dsn := fmt.Sprintf("file:spitit_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&entries.Entry{}, &summaries.Summary{}, &users.User{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}

	idProvider := entries.NewUUIDProvider()

	usersService, err := users.NewService(users.ServiceConfig{Database: db, IDProvider: idProvider})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	entriesService, err := entries.NewService(entries.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build entries service: %v", err)
	}
	generator, err := llm.NewWithHTTPClient(llm.Config{BaseURL: upstream.URL}, upstream.Client())
	if err != nil {
		testContext.Fatalf("failed to build llm client: %v", err)
	}
	summariesService, err := summaries.NewService(summaries.ServiceConfig{
		Database:   db,
		Entries:    entriesService,
		Generator:  generator,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build summaries service: %v", err)
	}

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        "spitit-auth",
		Audience:      "spitit-api",
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:     tokenManager,
		UsersService:     usersService,
		EntriesService:   entriesService,
		SummariesService: summariesService,
		Logger:           zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	registerBody, _ := json.Marshal(map[string]string{
		"email":    "person@example.com",
		"password": "hunter22",
		"name":     "Test Person",
	})
	registerResp, err := http.Post(testServer.URL+"/auth/register", jsonContentType, bytes.NewReader(registerBody))
	if err != nil {
		testContext.Fatalf("register request failed: %v", err)
	}
	registration := decodeJSON(testContext, registerResp)
	if registerResp.StatusCode != http.StatusCreated {
		testContext.Fatalf("unexpected register status: %d", registerResp.StatusCode)
	}
	accessToken, _ := registration["access_token"].(string)
	if accessToken == "" {
		testContext.Fatalf("expected access token in registration response")
	}

	spits := []map[string]any{
		{"content": "coffee on the balcony", "mood": "happy"},
		{"content": "stand-up ran long again", "mood": "frustrated"},
		{"content": "shipped the release", "mood": "happy", "location": map[string]float64{"lat": 52.52, "lng": 13.405}},
	}
	for _, spit := range spits {
		body, _ := json.Marshal(spit)
		response := doAuthorized(testContext, testServer.URL+"/api/spits", http.MethodPost, accessToken, body)
		if response.StatusCode != http.StatusCreated {
			testContext.Fatalf("unexpected create status: %d", response.StatusCode)
		}
		response.Body.Close()
	}

	generateResp := doAuthorized(testContext, testServer.URL+"/api/summaries/generate", http.MethodPost, accessToken, nil)
	if generateResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(generateResp.Body)
		testContext.Fatalf("unexpected generate status: %d: %s", generateResp.StatusCode, raw)
	}
	generated := decodeJSON(testContext, generateResp)
	summary, _ := generated["summary"].(map[string]any)
	if summary["summary"] != "three thoughts, mostly upbeat" {
		testContext.Fatalf("unexpected narrative: %v", summary)
	}
	if summary["spitsCount"] != float64(3) {
		testContext.Fatalf("expected spitsCount 3, got %v", summary["spitsCount"])
	}
	if summary["locationCount"] != float64(1) {
		testContext.Fatalf("expected locationCount 1, got %v", summary["locationCount"])
	}

	secondResp := doAuthorized(testContext, testServer.URL+"/api/summaries/generate", http.MethodPost, accessToken, nil)
	if secondResp.StatusCode != http.StatusBadRequest {
		testContext.Fatalf("expected exhausted backlog after generation, got %d", secondResp.StatusCode)
	}
	second := decodeJSON(testContext, secondResp)
	if second["error"] != "nothing_to_summarize" {
		testContext.Fatalf("unexpected error code: %v", second["error"])
	}

	latestResp := doAuthorized(testContext, testServer.URL+"/api/summaries/latest", http.MethodGet, accessToken, nil)
	if latestResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected latest status: %d", latestResp.StatusCode)
	}
	latest := decodeJSON(testContext, latestResp)
	latestSummary, _ := latest["summary"].(map[string]any)
	if latestSummary["id"] != summary["id"] {
		testContext.Fatalf("latest summary mismatch: %v vs %v", latestSummary["id"], summary["id"])
	}

	todayResp := doAuthorized(testContext, testServer.URL+"/api/spits/today", http.MethodGet, accessToken, nil)
	if todayResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected today status: %d", todayResp.StatusCode)
	}
	today := decodeJSON(testContext, todayResp)
	todaySpits, _ := today["spits"].([]any)
	if len(todaySpits) != 3 {
		testContext.Fatalf("expected 3 spits today, got %d", len(todaySpits))
	}
	for _, raw := range todaySpits {
		spit, _ := raw.(map[string]any)
		if spit["isSummarized"] != true {
			testContext.Fatalf("expected every spit summarized, got %v", spit)
		}
	}
}

func doAuthorized(testContext *testing.T, url, method, token string, body []byte) *http.Response {
	testContext.Helper()

	request, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	request.Header.Set("Authorization", "Bearer "+token)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	return response
}

func decodeJSON(testContext *testing.T, response *http.Response) map[string]any {
	testContext.Helper()
	defer response.Body.Close()

	var payload map[string]any
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode response: %v", err)
	}
	return payload
}
