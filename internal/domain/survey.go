package domain

import (
	"strings"
	"time"
)

// SatisfactionLevel is one of the accepted answers to the satisfaction question.
type SatisfactionLevel string

const (
	LevelExcelente    SatisfactionLevel = "excelente"
	LevelBuena        SatisfactionLevel = "buena"
	LevelRegular      SatisfactionLevel = "regular"
	LevelMala         SatisfactionLevel = "mala"
	LevelSatisfecho   SatisfactionLevel = "satisfecho"
	LevelNeutral      SatisfactionLevel = "neutral"
	LevelInsatisfecho SatisfactionLevel = "insatisfecho"
)

// SatisfactionLevels lists valid levels in the order they are offered to users.
var SatisfactionLevels = []SatisfactionLevel{
	LevelExcelente,
	LevelBuena,
	LevelRegular,
	LevelMala,
	LevelSatisfecho,
	LevelNeutral,
	LevelInsatisfecho,
}

// ParseSatisfactionLevel normalizes user text into a level.
func ParseSatisfactionLevel(raw string) (SatisfactionLevel, bool) {
	candidate := SatisfactionLevel(strings.ToLower(strings.TrimSpace(raw)))
	for _, level := range SatisfactionLevels {
		if level == candidate {
			return level, true
		}
	}
	return "", false
}

// MaxCommentLength bounds the free-text survey comment, in characters.
const MaxCommentLength = 1000

// SurveyState enumerates the survey tracker states.
type SurveyState string

const (
	SurveyNone     SurveyState = "NO_SURVEY"
	SurveyPending  SurveyState = "PENDING"
	SurveyComplete SurveyState = "COMPLETE"
)

// SurveyTimeLayout is the fecha format of survey log records.
const SurveyTimeLayout = "2006-01-02 15:04:05"

// SurveyRecord is one line of the JSON-lines survey log.
type SurveyRecord struct {
	Usuario      string `json:"usuario"`
	Satisfaccion string `json:"satisfaccion"`
	Comentario   string `json:"comentario"`
	Fecha        string `json:"fecha"`
}

// NewSurveyRecord stamps a completed survey with the given time.
func NewSurveyRecord(senderID string, level SatisfactionLevel, comment string, at time.Time) SurveyRecord {
	return SurveyRecord{
		Usuario:      senderID,
		Satisfaccion: string(level),
		Comentario:   comment,
		Fecha:        at.Format(SurveyTimeLayout),
	}
}
