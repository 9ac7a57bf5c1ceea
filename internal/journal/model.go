package journal

import (
	"errors"
	"fmt"
	"strings"
)

// Identity enumerates the two fixed participants of the journal.
type Identity string

const (
	// IdentityNidhi is the first participant.
	IdentityNidhi Identity = "nidhi"
	// IdentityArpan is the second participant.
	IdentityArpan Identity = "arpan"
)

// Source enumerates how a question reached the answering participant.
type Source string

const (
	// SourceManual marks a question typed in by a participant.
	SourceManual Source = "manual"
	// SourceRandom marks a question drawn from the daily random prompt.
	SourceRandom Source = "random"
)

const maxQuestionTextLength = 500

var (
	// ErrInvalidIdentity indicates a user identifier outside the fixed pair.
	ErrInvalidIdentity = errors.New("journal: invalid identity")
	// ErrInvalidSource indicates an unknown answer source tag.
	ErrInvalidSource = errors.New("journal: invalid source")
	// ErrInvalidQuestionText indicates question text that is empty or exceeds storage bounds.
	ErrInvalidQuestionText = errors.New("journal: invalid question text")
)

// ParseIdentity validates raw input against the fixed participant pair.
func ParseIdentity(rawInput string) (Identity, error) {
	switch Identity(strings.TrimSpace(rawInput)) {
	case IdentityNidhi:
		return IdentityNidhi, nil
	case IdentityArpan:
		return IdentityArpan, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentity, rawInput)
	}
}

// String returns the underlying identifier.
func (identity Identity) String() string {
	return string(identity)
}

// Counterpart returns the other participant of the pair.
func (identity Identity) Counterpart() Identity {
	if identity == IdentityNidhi {
		return IdentityArpan
	}
	return IdentityNidhi
}

// ParseSource validates raw input and returns a Source.
func ParseSource(rawInput string) (Source, error) {
	switch Source(strings.TrimSpace(rawInput)) {
	case SourceManual:
		return SourceManual, nil
	case SourceRandom:
		return SourceRandom, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, rawInput)
	}
}

// String returns the underlying tag.
func (source Source) String() string {
	return string(source)
}

// QuestionText represents validated, trimmed question text.
type QuestionText string

// NewQuestionText trims raw input and validates it is usable as question text.
func NewQuestionText(rawInput string) (QuestionText, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidQuestionText)
	}
	if len(trimmed) > maxQuestionTextLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidQuestionText, maxQuestionTextLength)
	}
	return QuestionText(trimmed), nil
}

// String returns the underlying text.
func (text QuestionText) String() string {
	return string(text)
}

// coupleStateID keys the singleton aggregate row.
const coupleStateID = 1

// CoupleState is the shared aggregate row holding points, streak, and daily flags.
type CoupleState struct {
	ID                   int64  `gorm:"column:id;primaryKey"`
	LovePoints           int64  `gorm:"column:love_points;not null;default:0"`
	StreakCount          int64  `gorm:"column:streak_count;not null;default:0"`
	LastStreakUpdateDate string `gorm:"column:last_streak_update_date;size:10;not null;default:''"`
	DailyProgressDate    string `gorm:"column:daily_progress_date;size:10;not null;default:''"`
	DailyRandomAnswered  bool   `gorm:"column:daily_random_answered;not null;default:false"`
	DailyManualAnswered  bool   `gorm:"column:daily_manual_answered;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (CoupleState) TableName() string {
	return "couple_state"
}

// NewInitialCoupleState returns the bootstrap aggregate: zero points, zero
// streak, last streak update backdated so the first qualifying answer can
// start the streak that same day.
func NewInitialCoupleState(yesterday string) CoupleState {
	return CoupleState{
		ID:                   coupleStateID,
		LastStreakUpdateDate: yesterday,
	}
}

// Snapshot derives the caller-facing view of the aggregate for the given day.
// Daily flags stored for an earlier day read as false without a write.
func (state CoupleState) Snapshot(today string) StateSnapshot {
	snapshot := StateSnapshot{
		LovePoints:           state.LovePoints,
		Streak:               state.StreakCount,
		LastStreakUpdateDate: state.LastStreakUpdateDate,
	}
	if state.DailyProgressDate == today {
		snapshot.DailyRandomAnswered = state.DailyRandomAnswered
		snapshot.DailyManualAnswered = state.DailyManualAnswered
	}
	return snapshot
}

// StateSnapshot is the effective aggregate view returned to callers.
type StateSnapshot struct {
	LovePoints           int64
	Streak               int64
	LastStreakUpdateDate string
	DailyRandomAnswered  bool
	DailyManualAnswered  bool
}

// Question is a shared prompt, deduplicated by its trimmed text.
type Question struct {
	QuestionID string `gorm:"column:question_id;primaryKey;size:190;not null"`
	Text       string `gorm:"column:text;size:500;not null;uniqueIndex:idx_questions_text"`
}

// TableName provides the explicit table binding for GORM.
func (Question) TableName() string {
	return "questions"
}

// Answer is one recorded audio answer. Rows are append-only; a participant
// may answer the same question more than once and every row is retained.
type Answer struct {
	AnswerID         string `gorm:"column:answer_id;primaryKey;size:190;not null"`
	QuestionID       string `gorm:"column:question_id;size:190;not null;index:idx_answers_question_user,priority:1"`
	UserID           string `gorm:"column:user_id;size:32;not null;index:idx_answers_question_user,priority:2"`
	AudioFilename    string `gorm:"column:audio_filename;size:190;not null"`
	AnsweredAtMillis int64  `gorm:"column:answered_at_ms;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (Answer) TableName() string {
	return "answers"
}

// AnswerRef is the per-user retained answer surfaced by the history query.
type AnswerRef struct {
	AudioFilename    string
	AnsweredAtMillis int64
}

// HistoryEntry is one question with the newest retained answer per participant.
type HistoryEntry struct {
	QuestionID    string
	Text          string
	AnswersByUser map[Identity]AnswerRef
}

// PendingQuestion is a question the counterpart answered that the
// requesting participant has not, annotated for ordering.
type PendingQuestion struct {
	QuestionID       string
	Text             string
	AskedBy          Identity
	AnsweredAtMillis int64
}

// SubmitResult reports the outcome of a successful answer submission.
type SubmitResult struct {
	PointsAwarded int64
	State         StateSnapshot
}
