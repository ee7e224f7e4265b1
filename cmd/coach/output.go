package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jrsteele09/go-coach-engine/dashboard"
	"github.com/jrsteele09/go-coach-engine/orchestrator"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

type statusView struct {
	State        string `json:"state" yaml:"state"`
	Email        string `json:"email,omitempty" yaml:"email,omitempty"`
	Linked       bool   `json:"linked" yaml:"linked"`
	LinkedEmail  string `json:"linkedEmail,omitempty" yaml:"linkedEmail,omitempty"`
	Premium      bool   `json:"premium" yaml:"premium"`
	Admin        bool   `json:"admin" yaml:"admin"`
	Subscription string `json:"subscription" yaml:"subscription"`
	LastError    string `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

type activityView struct {
	ID          int64   `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Type        string  `json:"type" yaml:"type"`
	Start       string  `json:"start" yaml:"start"`
	DistanceKm  float64 `json:"distanceKm" yaml:"distanceKm"`
	DurationMin float64 `json:"durationMin" yaml:"durationMin"`
}

type dashboardView struct {
	FetchedAt        string         `json:"fetchedAt" yaml:"fetchedAt"`
	Language         string         `json:"language" yaml:"language"`
	RestingHeartRate *int           `json:"restingHeartRate,omitempty" yaml:"restingHeartRate,omitempty"`
	Stress           *int           `json:"stress,omitempty" yaml:"stress,omitempty"`
	BodyBattery      *int           `json:"bodyBattery,omitempty" yaml:"bodyBattery,omitempty"`
	Steps            *int           `json:"steps,omitempty" yaml:"steps,omitempty"`
	SleepHours       *float64       `json:"sleepHours,omitempty" yaml:"sleepHours,omitempty"`
	VO2Max           *float64       `json:"vo2Max,omitempty" yaml:"vo2Max,omitempty"`
	Activities       []activityView `json:"activities" yaml:"activities"`
	Advice           string         `json:"advice,omitempty" yaml:"advice,omitempty"`
	Workout          string         `json:"workout,omitempty" yaml:"workout,omitempty"`
}

func newStatusView(e *orchestrator.Engine) statusView {
	ent := e.Entitlement()
	link := e.AccountLink()
	v := statusView{
		State:        string(e.State()),
		Email:        e.Session().Email,
		Linked:       link.IsLinked,
		LinkedEmail:  link.LinkedAccountEmail,
		Premium:      ent.IsPremium,
		Admin:        ent.IsAdmin,
		Subscription: string(ent.SubscriptionStatus),
	}
	if err := e.LastError(); err != nil {
		v.LastError = err.Error()
	}
	return v
}

func newDashboardView(snap dashboard.Snapshot) dashboardView {
	m := snap.Metrics
	v := dashboardView{
		FetchedAt:        snap.FetchedAt.Format("2006-01-02 15:04"),
		Language:         snap.Language(),
		RestingHeartRate: m.Health.RestingHeartRate,
		Stress:           m.Health.AverageStress,
		BodyBattery:      m.Health.BodyBattery,
		Steps:            m.Health.TotalSteps,
		Activities:       make([]activityView, 0, len(m.RecentActivities)),
	}
	if s := m.Sleep.SleepTimeSeconds; s != nil {
		hours := float64(*s) / 3600
		v.SleepHours = &hours
	}
	if m.Profile != nil {
		v.VO2Max = m.Profile.VO2Max
	}
	for _, a := range m.RecentActivities {
		v.Activities = append(v.Activities, activityView{
			ID:          a.ID,
			Name:        a.Name,
			Type:        a.Type,
			Start:       a.StartTimeLocal,
			DistanceKm:  a.DistanceMeters / 1000,
			DurationMin: a.DurationSeconds / 60,
		})
	}
	if snap.Advice != nil {
		v.Advice = *snap.Advice
	}
	if snap.Workout != nil {
		v.Workout = fmt.Sprintf("%s (%s, %d steps)", snap.Workout.Name, snap.Workout.Sport, snap.Workout.StepCount)
	}
	return v
}

// render writes v in the selected output format. text is used for plain values
// when the format is text.
func render(w io.Writer, v any, text func(io.Writer)) error {
	switch strings.ToLower(outputFormat) {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case formatText, "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q, use text, json or yaml", outputFormat)
	}
}

// renderRaw prints a pass-through payload, converting it for yaml output
func renderRaw(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("[renderRaw] %w", err)
	}
	return render(w, v, func(w io.Writer) {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Fprintln(w, string(b))
	})
}

func printStatus(w io.Writer, v statusView) {
	fmt.Fprintf(w, "State:        %s\n", v.State)
	if v.Email != "" {
		fmt.Fprintf(w, "Signed in as: %s\n", v.Email)
	}
	link := "not linked"
	if v.Linked {
		link = "linked"
		if v.LinkedEmail != "" {
			link += " (" + v.LinkedEmail + ")"
		}
	}
	fmt.Fprintf(w, "Watch:        %s\n", link)
	fmt.Fprintf(w, "Premium:      %t (admin %t, subscription %s)\n", v.Premium, v.Admin, v.Subscription)
	if v.LastError != "" {
		fmt.Fprintf(w, "Last error:   %s\n", v.LastError)
	}
}

func printDashboard(w io.Writer, v dashboardView) {
	fmt.Fprintf(w, "Dashboard (%s, language %s)\n\n", v.FetchedAt, v.Language)
	printMetric(w, "Resting HR", v.RestingHeartRate, "bpm")
	printMetric(w, "Stress", v.Stress, "")
	printMetric(w, "Body Battery", v.BodyBattery, "")
	printMetric(w, "Steps", v.Steps, "")
	if v.SleepHours != nil {
		fmt.Fprintf(w, "  %-13s %.1f h\n", "Sleep", *v.SleepHours)
	}
	if v.VO2Max != nil {
		fmt.Fprintf(w, "  %-13s %.0f\n", "VO2 Max", *v.VO2Max)
	}
	if len(v.Activities) > 0 {
		fmt.Fprintln(w, "\nRecent activities")
		for _, a := range v.Activities {
			fmt.Fprintf(w, "  %-10d %-28s %-10s %6.2f km %6.1f min  %s\n", a.ID, a.Name, a.Type, a.DistanceKm, a.DurationMin, a.Start)
		}
	}
	if v.Advice != "" {
		fmt.Fprintf(w, "\nCoach\n  %s\n", v.Advice)
	}
	if v.Workout != "" {
		fmt.Fprintf(w, "\nWorkout\n  %s\n", v.Workout)
	}
}

func printMetric(w io.Writer, label string, v *int, unit string) {
	if v == nil {
		fmt.Fprintf(w, "  %-13s --\n", label)
		return
	}
	fmt.Fprintf(w, "  %-13s %d %s\n", label, *v, unit)
}
