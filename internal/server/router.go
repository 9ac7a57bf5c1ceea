package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lamplight-labs/duet/internal/blob"
	"github.com/lamplight-labs/duet/internal/journal"
	"go.uber.org/zap"
)

const audioRoutePrefix = "/api/audio/"

var (
	errMissingJournalService = errors.New("journal service dependency required")
	errMissingBlobStore      = errors.New("blob store dependency required")
)

// Dependencies lists the collaborators the HTTP handler needs.
type Dependencies struct {
	JournalService *journal.Service
	Blobs          *blob.Store
	Logger         *zap.Logger
}

// NewHTTPHandler wires the API routes onto a gin engine.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.JournalService == nil {
		return nil, errMissingJournalService
	}
	if deps.Blobs == nil {
		return nil, errMissingBlobStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		journal: deps.JournalService,
		blobs:   deps.Blobs,
		logger:  logger,
	}

	router.POST("/api/answer", handler.handleSubmitAnswer)
	router.GET("/api/state", handler.handleState)
	router.GET("/api/history", handler.handleHistory)
	router.GET("/api/audio/:filename", handler.handleAudio)
	router.GET("/api/pending/:userId", handler.handlePending)

	return router, nil
}

type httpHandler struct {
	journal *journal.Service
	blobs   *blob.Store
	logger  *zap.Logger
}

type statePayload struct {
	LovePoints           int64  `json:"lovePoints"`
	Streak               int64  `json:"streak"`
	LastStreakUpdateDate string `json:"lastStreakUpdateDate"`
	DailyRandomAnswered  bool   `json:"dailyRandomAnswered"`
	DailyManualAnswered  bool   `json:"dailyManualAnswered"`
}

type submitResponsePayload struct {
	Message      string `json:"message"`
	PointAwarded int64  `json:"pointAwarded"`
	statePayload
}

type answerRefPayload struct {
	AudioURL        string `json:"audioUrl"`
	TimestampMillis int64  `json:"timestamp"`
}

type historyEntryPayload struct {
	QuestionID string                      `json:"id"`
	Text       string                      `json:"text"`
	Answers    map[string]answerRefPayload `json:"answers"`
}

type pendingEntryPayload struct {
	QuestionID      string `json:"id"`
	Text            string `json:"text"`
	AskedBy         string `json:"asked_by"`
	TimestampMillis int64  `json:"timestamp"`
}

func (h *httpHandler) handleSubmitAnswer(c *gin.Context) {
	userID, err := journal.ParseIdentity(c.PostForm("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}
	questionText, err := journal.NewQuestionText(c.PostForm("questionText"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_question_text"})
		return
	}
	source, err := journal.ParseSource(c.PostForm("source"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_source"})
		return
	}
	fileHeader, err := c.FormFile("audioFile")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_audio_file"})
		return
	}
	audio, err := fileHeader.Open()
	if err != nil {
		h.logger.Warn("failed to open audio upload", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_audio_file"})
		return
	}
	defer audio.Close()

	result, err := h.journal.SubmitAnswer(c.Request.Context(), journal.SubmitRequest{
		UserID:        userID,
		QuestionText:  questionText,
		Source:        source,
		AudioFilename: fileHeader.Filename,
		Audio:         audio,
	})
	if err != nil {
		if errors.Is(err, journal.ErrUnsupportedAudio) || errors.Is(err, journal.ErrMissingAudio) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_audio_file"})
			return
		}
		h.logger.Error("answer submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submit_failed", "code": serviceErrorCode(err)})
		return
	}

	c.JSON(http.StatusCreated, submitResponsePayload{
		Message:      "Answer saved successfully",
		PointAwarded: result.PointsAwarded,
		statePayload: stateToPayload(result.State),
	})
}

func (h *httpHandler) handleState(c *gin.Context) {
	snapshot, err := h.journal.State(c.Request.Context())
	if err != nil {
		h.logger.Error("state query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_fetch_failed", "code": serviceErrorCode(err)})
		return
	}
	c.JSON(http.StatusOK, stateToPayload(snapshot))
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	entries, err := h.journal.History(c.Request.Context())
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history_fetch_failed", "code": serviceErrorCode(err)})
		return
	}

	payload := make([]historyEntryPayload, 0, len(entries))
	for _, entry := range entries {
		answers := make(map[string]answerRefPayload, len(entry.AnswersByUser))
		for identity, ref := range entry.AnswersByUser {
			answers[identity.String()] = answerRefPayload{
				AudioURL:        audioRoutePrefix + ref.AudioFilename,
				TimestampMillis: ref.AnsweredAtMillis,
			}
		}
		payload = append(payload, historyEntryPayload{
			QuestionID: entry.QuestionID,
			Text:       entry.Text,
			Answers:    answers,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleAudio(c *gin.Context) {
	filename := c.Param("filename")
	if err := blob.ValidateName(filename); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_filename"})
		return
	}
	path, err := h.blobs.Resolve(filename)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audio_not_found"})
			return
		}
		h.logger.Error("audio resolve failed", zap.String("filename", filename), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "audio_fetch_failed"})
		return
	}
	c.Header("Content-Disposition", "inline")
	c.File(path)
}

func (h *httpHandler) handlePending(c *gin.Context) {
	userID, err := journal.ParseIdentity(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_user_id"})
		return
	}

	pending, err := h.journal.Pending(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("pending query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pending_fetch_failed", "code": serviceErrorCode(err)})
		return
	}

	payload := make([]pendingEntryPayload, 0, len(pending))
	for _, entry := range pending {
		payload = append(payload, pendingEntryPayload{
			QuestionID:      entry.QuestionID,
			Text:            entry.Text,
			AskedBy:         entry.AskedBy.String(),
			TimestampMillis: entry.AnsweredAtMillis,
		})
	}
	c.JSON(http.StatusOK, payload)
}

func stateToPayload(snapshot journal.StateSnapshot) statePayload {
	return statePayload{
		LovePoints:           snapshot.LovePoints,
		Streak:               snapshot.Streak,
		LastStreakUpdateDate: snapshot.LastStreakUpdateDate,
		DailyRandomAnswered:  snapshot.DailyRandomAnswered,
		DailyManualAnswered:  snapshot.DailyManualAnswered,
	}
}

func serviceErrorCode(err error) string {
	var serviceErr *journal.ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
