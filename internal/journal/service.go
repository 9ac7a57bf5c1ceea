package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/lamplight-labs/duet/internal/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingBlobStore  = errors.New("blob store is required")
	noOpLogger           = zap.NewNop()

	// ErrUnsupportedAudio indicates an upload without a recognized audio extension.
	ErrUnsupportedAudio = errors.New("journal: unsupported audio file")
	// ErrMissingAudio indicates a submission without audio content.
	ErrMissingAudio = errors.New("journal: missing audio file")
	// ErrStateMissing indicates the singleton aggregate row was never seeded.
	ErrStateMissing = errors.New("journal: couple state row missing")
)

// ServiceError carries a stable operation.reason code alongside its cause.
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
	opServiceNew   = "journal.service.new"
	opSubmitAnswer = "journal.submit_answer"
	opState        = "journal.state"
	opHistory      = "journal.history"
	opPending      = "journal.pending"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// DefaultAudioExtensions is the allow-list applied when none is configured.
var DefaultAudioExtensions = []string{"webm", "mp3", "ogg", "wav", "m4a"}

// ServiceConfig describes the collaborators required by the journal service.
type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	IDProvider      IDProvider
	Blobs           *blob.Store
	AudioExtensions []string
	Logger          *zap.Logger
}

// IDProvider issues globally unique identifiers for rows and blob names.
type IDProvider interface {
	NewID() (string, error)
}

// Service implements the answer-submission transaction and its read-side queries.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	blobs      *blob.Store
	extensions map[string]struct{}
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Blobs == nil {
		return nil, newServiceError(opServiceNew, "missing_blob_store", errMissingBlobStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	allowed := cfg.AudioExtensions
	if len(allowed) == 0 {
		allowed = DefaultAudioExtensions
	}
	extensions := make(map[string]struct{}, len(allowed))
	for _, extension := range allowed {
		extensions[strings.ToLower(strings.TrimSpace(extension))] = struct{}{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		blobs:      cfg.Blobs,
		extensions: extensions,
		logger:     logger,
	}, nil
}

// SubmitRequest is a validated answer submission.
type SubmitRequest struct {
	UserID        Identity
	QuestionText  QuestionText
	Source        Source
	AudioFilename string
	Audio         io.Reader
}

// pointsFirstAnswer and pointsClosingAnswer encode the award rule: the
// first participant to answer a question earns 1 point, the counterpart
// closing it earns 5.
const (
	pointsFirstAnswer   = 1
	pointsClosingAnswer = 5
)

// SubmitAnswer persists one answer and atomically recomputes the aggregate.
// The audio blob is staged first and only kept once the store transaction
// commits; any transaction failure discards it.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if s.db == nil {
		s.logError(opSubmitAnswer, "missing_database", errMissingDatabase)
		return SubmitResult{}, newServiceError(opSubmitAnswer, "missing_database", errMissingDatabase)
	}

	extension, err := s.audioExtension(req.AudioFilename)
	if err != nil {
		return SubmitResult{}, newServiceError(opSubmitAnswer, "unsupported_audio", err)
	}
	if req.Audio == nil {
		return SubmitResult{}, newServiceError(opSubmitAnswer, "missing_audio", ErrMissingAudio)
	}

	blobID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmitAnswer, "id_generation_failed", err)
		return SubmitResult{}, newServiceError(opSubmitAnswer, "id_generation_failed", err)
	}
	blobName := blobID + "." + extension

	staged, err := s.blobs.Stage(blobName, req.Audio)
	if err != nil {
		s.logError(opSubmitAnswer, "blob_stage_failed", err, zap.String("blob", blobName))
		return SubmitResult{}, newServiceError(opSubmitAnswer, "blob_stage_failed", err)
	}

	now := s.clock()
	today := DayOf(now)
	yesterday := DayBefore(now)

	var result SubmitResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		question, err := s.resolveQuestion(tx, req.QuestionText)
		if err != nil {
			return err
		}

		answerID, err := s.idProvider.NewID()
		if err != nil {
			s.logError(opSubmitAnswer, "id_generation_failed", err)
			return newServiceError(opSubmitAnswer, "id_generation_failed", err)
		}
		answer := Answer{
			AnswerID:         answerID,
			QuestionID:       question.QuestionID,
			UserID:           req.UserID.String(),
			AudioFilename:    blobName,
			AnsweredAtMillis: now.UnixMilli(),
		}
		if err := tx.Create(&answer).Error; err != nil {
			s.logError(opSubmitAnswer, "answer_insert_failed", err,
				zap.String("question_id", question.QuestionID),
				zap.String("user_id", req.UserID.String()))
			return newServiceError(opSubmitAnswer, "answer_insert_failed", err)
		}

		var counterpartAnswers int64
		if err := tx.Model(&Answer{}).
			Where("question_id = ? AND user_id = ?", question.QuestionID, req.UserID.Counterpart().String()).
			Count(&counterpartAnswers).Error; err != nil {
			s.logError(opSubmitAnswer, "counterpart_count_failed", err,
				zap.String("question_id", question.QuestionID))
			return newServiceError(opSubmitAnswer, "counterpart_count_failed", err)
		}

		points := int64(pointsFirstAnswer)
		if counterpartAnswers > 0 {
			points = pointsClosingAnswer
		}

		var state CoupleState
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", coupleStateID).
			Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opSubmitAnswer, "state_missing", ErrStateMissing)
			return newServiceError(opSubmitAnswer, "state_missing", ErrStateMissing)
		}
		if err != nil {
			s.logError(opSubmitAnswer, "state_select_failed", err)
			return newServiceError(opSubmitAnswer, "state_select_failed", err)
		}

		state.LovePoints += points

		// Streak moves at most once per calendar day.
		if state.LastStreakUpdateDate != today {
			if state.LastStreakUpdateDate == yesterday {
				state.StreakCount++
			} else {
				state.StreakCount = 1
			}
			state.LastStreakUpdateDate = today
		}

		// Lazy daily reset, independent of the point logic.
		if state.DailyProgressDate != today {
			state.DailyRandomAnswered = false
			state.DailyManualAnswered = false
			state.DailyProgressDate = today
		}
		switch req.Source {
		case SourceRandom:
			state.DailyRandomAnswered = true
		case SourceManual:
			state.DailyManualAnswered = true
		}

		if err := tx.Save(&state).Error; err != nil {
			s.logError(opSubmitAnswer, "state_update_failed", err)
			return newServiceError(opSubmitAnswer, "state_update_failed", err)
		}

		result = SubmitResult{PointsAwarded: points, State: state.Snapshot(today)}
		return nil
	})

	if txErr != nil {
		if discardErr := staged.Discard(); discardErr != nil {
			s.loggerOrDefault().Warn("staged audio cleanup failed",
				zap.String("blob", blobName), zap.Error(discardErr))
		}
		return SubmitResult{}, txErr
	}

	staged.Keep()
	return result, nil
}

func (s *Service) resolveQuestion(tx *gorm.DB, text QuestionText) (Question, error) {
	var question Question
	err := tx.Where("text = ?", text.String()).Take(&question).Error
	if err == nil {
		return question, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opSubmitAnswer, "question_select_failed", err)
		return Question{}, newServiceError(opSubmitAnswer, "question_select_failed", err)
	}

	questionID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opSubmitAnswer, "id_generation_failed", err)
		return Question{}, newServiceError(opSubmitAnswer, "id_generation_failed", err)
	}
	question = Question{QuestionID: questionID, Text: text.String()}
	if err := tx.Create(&question).Error; err != nil {
		s.logError(opSubmitAnswer, "question_insert_failed", err)
		return Question{}, newServiceError(opSubmitAnswer, "question_insert_failed", err)
	}
	return question, nil
}

// State returns the effective aggregate snapshot for the current day.
func (s *Service) State(ctx context.Context) (StateSnapshot, error) {
	if s.db == nil {
		s.logError(opState, "missing_database", errMissingDatabase)
		return StateSnapshot{}, newServiceError(opState, "missing_database", errMissingDatabase)
	}

	var state CoupleState
	err := s.db.WithContext(ctx).Where("id = ?", coupleStateID).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opState, "state_missing", ErrStateMissing)
		return StateSnapshot{}, newServiceError(opState, "state_missing", ErrStateMissing)
	}
	if err != nil {
		s.logError(opState, "query_failed", err)
		return StateSnapshot{}, newServiceError(opState, "query_failed", err)
	}

	return state.Snapshot(DayOf(s.clock())), nil
}

// History returns every question with the newest retained answer per
// participant, newest activity first; answerless questions sort last.
func (s *Service) History(ctx context.Context) ([]HistoryEntry, error) {
	if s.db == nil {
		s.logError(opHistory, "missing_database", errMissingDatabase)
		return nil, newServiceError(opHistory, "missing_database", errMissingDatabase)
	}

	var questions []Question
	if err := s.db.WithContext(ctx).Find(&questions).Error; err != nil {
		s.logError(opHistory, "question_query_failed", err)
		return nil, newServiceError(opHistory, "question_query_failed", err)
	}

	var answers []Answer
	if err := s.db.WithContext(ctx).
		Order("answered_at_ms DESC").
		Find(&answers).Error; err != nil {
		s.logError(opHistory, "answer_query_failed", err)
		return nil, newServiceError(opHistory, "answer_query_failed", err)
	}

	entries := make([]HistoryEntry, 0, len(questions))
	byQuestion := make(map[string]int, len(questions))
	for _, question := range questions {
		byQuestion[question.QuestionID] = len(entries)
		entries = append(entries, HistoryEntry{
			QuestionID:    question.QuestionID,
			Text:          question.Text,
			AnswersByUser: make(map[Identity]AnswerRef, 2),
		})
	}

	// Answers arrive newest first, so the first row seen per (question,
	// user) pair is the retained one.
	for _, answer := range answers {
		index, ok := byQuestion[answer.QuestionID]
		if !ok {
			continue
		}
		identity := Identity(answer.UserID)
		if _, seen := entries[index].AnswersByUser[identity]; seen {
			continue
		}
		entries[index].AnswersByUser[identity] = AnswerRef{
			AudioFilename:    answer.AudioFilename,
			AnsweredAtMillis: answer.AnsweredAtMillis,
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return newestAnsweredAt(entries[i]) > newestAnsweredAt(entries[j])
	})

	return entries, nil
}

func newestAnsweredAt(entry HistoryEntry) int64 {
	var newest int64
	for _, ref := range entry.AnswersByUser {
		if ref.AnsweredAtMillis > newest {
			newest = ref.AnsweredAtMillis
		}
	}
	return newest
}

// Pending returns questions the counterpart answered that the given
// participant has not, newest counterpart answer first.
func (s *Service) Pending(ctx context.Context, userID Identity) ([]PendingQuestion, error) {
	if s.db == nil {
		s.logError(opPending, "missing_database", errMissingDatabase)
		return nil, newServiceError(opPending, "missing_database", errMissingDatabase)
	}

	counterpart := userID.Counterpart()

	type counterpartRow struct {
		QuestionID   string
		LatestMillis int64
	}
	var counterpartRows []counterpartRow
	if err := s.db.WithContext(ctx).Model(&Answer{}).
		Select("question_id, MAX(answered_at_ms) AS latest_millis").
		Where("user_id = ?", counterpart.String()).
		Group("question_id").
		Scan(&counterpartRows).Error; err != nil {
		s.logError(opPending, "counterpart_query_failed", err,
			zap.String("user_id", userID.String()))
		return nil, newServiceError(opPending, "counterpart_query_failed", err)
	}
	if len(counterpartRows) == 0 {
		return []PendingQuestion{}, nil
	}

	var answeredIDs []string
	if err := s.db.WithContext(ctx).Model(&Answer{}).
		Where("user_id = ?", userID.String()).
		Distinct().
		Pluck("question_id", &answeredIDs).Error; err != nil {
		s.logError(opPending, "requester_query_failed", err,
			zap.String("user_id", userID.String()))
		return nil, newServiceError(opPending, "requester_query_failed", err)
	}
	answered := make(map[string]struct{}, len(answeredIDs))
	for _, id := range answeredIDs {
		answered[id] = struct{}{}
	}

	pendingIDs := make([]string, 0, len(counterpartRows))
	latestByID := make(map[string]int64, len(counterpartRows))
	for _, row := range counterpartRows {
		if _, done := answered[row.QuestionID]; done {
			continue
		}
		pendingIDs = append(pendingIDs, row.QuestionID)
		latestByID[row.QuestionID] = row.LatestMillis
	}
	if len(pendingIDs) == 0 {
		return []PendingQuestion{}, nil
	}

	var questions []Question
	if err := s.db.WithContext(ctx).
		Where("question_id IN ?", pendingIDs).
		Find(&questions).Error; err != nil {
		s.logError(opPending, "question_query_failed", err)
		return nil, newServiceError(opPending, "question_query_failed", err)
	}

	pending := make([]PendingQuestion, 0, len(questions))
	for _, question := range questions {
		pending = append(pending, PendingQuestion{
			QuestionID:       question.QuestionID,
			Text:             question.Text,
			AskedBy:          counterpart,
			AnsweredAtMillis: latestByID[question.QuestionID],
		})
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].AnsweredAtMillis > pending[j].AnsweredAtMillis
	})

	return pending, nil
}

func (s *Service) audioExtension(filename string) (string, error) {
	name := strings.TrimSpace(filename)
	dot := strings.LastIndex(name, ".")
	if dot <= 0 || dot == len(name)-1 {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedAudio, filename)
	}
	extension := strings.ToLower(name[dot+1:])
	if _, ok := s.extensions[extension]; !ok {
		return "", fmt.Errorf("%w: extension %q", ErrUnsupportedAudio, extension)
	}
	return extension, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
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
	s.loggerOrDefault().Error("journal service error", attrs...)
}
