package integration_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lamplight-labs/duet/internal/blob"
	"github.com/lamplight-labs/duet/internal/database"
	"github.com/lamplight-labs/duet/internal/journal"
	"github.com/lamplight-labs/duet/internal/server"
	"go.uber.org/zap"
)

const questionText = "What made you smile today?"

type statePayload struct {
	LovePoints           int64  `json:"lovePoints"`
	Streak               int64  `json:"streak"`
	LastStreakUpdateDate string `json:"lastStreakUpdateDate"`
	DailyRandomAnswered  bool   `json:"dailyRandomAnswered"`
	DailyManualAnswered  bool   `json:"dailyManualAnswered"`
}

type submitPayload struct {
	Message      string `json:"message"`
	PointAwarded int64  `json:"pointAwarded"`
	statePayload
}

func TestSubmitAndQueryFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)

	clockTime := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return clockTime }
	today := journal.DayOf(clockTime)

	tempDir := testContext.TempDir()
	db, err := database.OpenSQLite(filepath.Join(tempDir, "duet.db"), clock, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	blobStore, err := blob.NewStore(filepath.Join(tempDir, "audio"))
	if err != nil {
		testContext.Fatalf("failed to create blob store: %v", err)
	}

	journalService, err := journal.NewService(journal.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: journal.NewUUIDProvider(),
		Blobs:      blobStore,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build journal service: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		JournalService: journalService,
		Blobs:          blobStore,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	// first answer of the day opens the question: +1 point, streak starts
	first := submitAnswer(testContext, testServer.URL, "nidhi", "manual", "answer.webm")
	if first.PointAwarded != 1 || first.LovePoints != 1 || first.Streak != 1 {
		testContext.Fatalf("unexpected first submission payload: %#v", first)
	}
	if first.LastStreakUpdateDate != today {
		testContext.Fatalf("expected streak date %s, got %s", today, first.LastStreakUpdateDate)
	}
	if !first.DailyManualAnswered || first.DailyRandomAnswered {
		testContext.Fatalf("expected only manual daily flag, got %#v", first)
	}

	// counterpart closes the question the same day: +5, streak unchanged
	second := submitAnswer(testContext, testServer.URL, "arpan", "random", "reply.ogg")
	if second.PointAwarded != 5 || second.LovePoints != 6 || second.Streak != 1 {
		testContext.Fatalf("unexpected second submission payload: %#v", second)
	}
	if !second.DailyRandomAnswered || !second.DailyManualAnswered {
		testContext.Fatalf("both daily flags should be set, got %#v", second)
	}

	stateResp, err := http.Get(testServer.URL + "/api/state")
	if err != nil {
		testContext.Fatalf("state request failed: %v", err)
	}
	defer stateResp.Body.Close()
	if stateResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected state status: %d", stateResp.StatusCode)
	}
	var state statePayload
	if err := json.NewDecoder(stateResp.Body).Decode(&state); err != nil {
		testContext.Fatalf("failed to decode state: %v", err)
	}
	if state.LovePoints != 6 || state.Streak != 1 || state.LastStreakUpdateDate != today {
		testContext.Fatalf("unexpected state payload: %#v", state)
	}

	historyResp, err := http.Get(testServer.URL + "/api/history")
	if err != nil {
		testContext.Fatalf("history request failed: %v", err)
	}
	defer historyResp.Body.Close()
	var history []struct {
		QuestionID string `json:"id"`
		Text       string `json:"text"`
		Answers    map[string]struct {
			AudioURL        string `json:"audioUrl"`
			TimestampMillis int64  `json:"timestamp"`
		} `json:"answers"`
	}
	if err := json.NewDecoder(historyResp.Body).Decode(&history); err != nil {
		testContext.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 1 {
		testContext.Fatalf("expected one question in history, got %d", len(history))
	}
	if history[0].Text != questionText {
		testContext.Fatalf("unexpected question text %q", history[0].Text)
	}
	if len(history[0].Answers) != 2 {
		testContext.Fatalf("expected both participants in history, got %d", len(history[0].Answers))
	}

	// both answered, so nothing is pending for either participant
	for _, user := range []string{"nidhi", "arpan"} {
		pendingResp, err := http.Get(testServer.URL + "/api/pending/" + user)
		if err != nil {
			testContext.Fatalf("pending request failed: %v", err)
		}
		var pending []json.RawMessage
		if err := json.NewDecoder(pendingResp.Body).Decode(&pending); err != nil {
			testContext.Fatalf("failed to decode pending: %v", err)
		}
		pendingResp.Body.Close()
		if len(pending) != 0 {
			testContext.Fatalf("expected no pending questions for %s, got %d", user, len(pending))
		}
	}

	invalidResp, err := http.Get(testServer.URL + "/api/pending/charlie")
	if err != nil {
		testContext.Fatalf("invalid pending request failed: %v", err)
	}
	invalidResp.Body.Close()
	if invalidResp.StatusCode != http.StatusBadRequest {
		testContext.Fatalf("expected bad request for unknown identity, got %d", invalidResp.StatusCode)
	}

	// the stored audio must be fetchable through the history URL
	audioURL := history[0].Answers["nidhi"].AudioURL
	if audioURL == "" {
		testContext.Fatalf("expected audio url in history payload")
	}
	audioResp, err := http.Get(testServer.URL + audioURL)
	if err != nil {
		testContext.Fatalf("audio request failed: %v", err)
	}
	defer audioResp.Body.Close()
	if audioResp.StatusCode != http.StatusOK {
		testContext.Fatalf("unexpected audio status: %d", audioResp.StatusCode)
	}
	content, err := io.ReadAll(audioResp.Body)
	if err != nil {
		testContext.Fatalf("failed to read audio body: %v", err)
	}
	if string(content) != "audio-bytes" {
		testContext.Fatalf("unexpected audio content %q", content)
	}

	missingResp, err := http.Get(testServer.URL + "/api/audio/missing.webm")
	if err != nil {
		testContext.Fatalf("missing audio request failed: %v", err)
	}
	missingResp.Body.Close()
	if missingResp.StatusCode != http.StatusNotFound {
		testContext.Fatalf("expected not found for missing audio, got %d", missingResp.StatusCode)
	}
}

func submitAnswer(testContext *testing.T, baseURL, userID, source, fileName string) submitPayload {
	testContext.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range map[string]string{
		"userId":       userID,
		"questionText": questionText,
		"source":       source,
	} {
		if err := writer.WriteField(key, value); err != nil {
			testContext.Fatalf("failed to write field %s: %v", key, err)
		}
	}
	part, err := writer.CreateFormFile("audioFile", fileName)
	if err != nil {
		testContext.Fatalf("failed to add file part: %v", err)
	}
	if _, err := part.Write([]byte("audio-bytes")); err != nil {
		testContext.Fatalf("failed to write audio content: %v", err)
	}
	if err := writer.Close(); err != nil {
		testContext.Fatalf("failed to close multipart writer: %v", err)
	}

	request, err := http.NewRequest(http.MethodPost, baseURL+"/api/answer", body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("submit request failed: %v", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(response.Body)
		testContext.Fatalf("unexpected submit status %d: %s", response.StatusCode, raw)
	}

	var payload submitPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode submit response: %v", err)
	}
	return payload
}
