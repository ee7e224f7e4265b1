package dashboard

import (
	"encoding/json"
	"time"
)

// DefaultLanguage is assumed when the settings overlay is absent
const DefaultLanguage = "en"

// Health is the projected daily health summary
type Health struct {
	RestingHeartRate *int
	AverageStress    *int
	BodyBattery      *int
	TotalSteps       *int
	Raw              json.RawMessage
}

// Sleep is the projected last-night sleep summary
type Sleep struct {
	SleepTimeSeconds *int
	SleepScore       *int
	Raw              json.RawMessage
}

type Activity struct {
	ID              int64
	Name            string
	Type            string
	StartTimeLocal  string
	DistanceMeters  float64
	DurationSeconds float64
	AverageHR       *float64
}

// ProfileExtras carries the optional profile overlay
type ProfileExtras struct {
	VO2Max *float64
	Raw    json.RawMessage
}

// Metrics is the mandatory part of a snapshot
type Metrics struct {
	Health              Health
	Sleep               Sleep
	RecentActivities    []Activity
	RecentActivitiesRaw json.RawMessage
	TodaysActivitiesRaw json.RawMessage
	// WeeklyVolume is passed through untouched
	WeeklyVolume json.RawMessage
	Profile      *ProfileExtras
}

type Race struct {
	Name string `json:"name" yaml:"name"`
	Date string `json:"date" yaml:"date"`
}

// Settings are the cross-session user preferences
type Settings struct {
	PrimarySport string          `json:"primary_sport" yaml:"primary_sport"`
	Language     string          `json:"language" yaml:"language"`
	Age          *int            `json:"age,omitempty" yaml:"age,omitempty"`
	Gender       string          `json:"gender,omitempty" yaml:"gender,omitempty"`
	StrengthDays int             `json:"strength_days" yaml:"strength_days"`
	Metrics      json.RawMessage `json:"metrics,omitempty" yaml:"-"`
	Races        []Race          `json:"races,omitempty" yaml:"races,omitempty"`
	CoachStyle   string          `json:"coach_style" yaml:"coach_style"`
}

// DefaultSettings mirrors the server side defaults
func DefaultSettings() Settings {
	return Settings{
		PrimarySport: "Running",
		Language:     DefaultLanguage,
		CoachStyle:   "Supportive",
	}
}

// Workout is a structured prescribed session. Raw is kept verbatim for device sync.
type Workout struct {
	Name      string
	Sport     string
	StepCount int
	Raw       json.RawMessage
}

func (w *Workout) MarshalJSON() ([]byte, error) {
	if w == nil || len(w.Raw) == 0 {
		return []byte("null"), nil
	}
	return w.Raw, nil
}

// Snapshot is one assembled dashboard. Advice and Workout are either both
// produced by the same generation or both absent, except for the fallback
// message which carries no workout.
type Snapshot struct {
	Generation uint64
	FetchedAt  time.Time
	Metrics    Metrics
	Settings   *Settings
	Advice     *string
	Workout    *Workout
}

// Language is the active language, falling back to DefaultLanguage
func (s Snapshot) Language() string {
	if s.Settings == nil || s.Settings.Language == "" {
		return DefaultLanguage
	}
	return s.Settings.Language
}

func (s Snapshot) HasAdvice() bool {
	return s.Advice != nil
}
