package dashboard

import (
	"encoding/json"

	"github.com/jrsteele09/go-coach-engine/internal/utils"
	"github.com/tidwall/gjson"
)

// Raw provider payloads are projected here, once. Nothing past this file sees them
// except as opaque pass-through bytes.

// vo2MaxPaths lists the places a VO2 max value has been seen, most specific first
var vo2MaxPaths = []string{
	"vo2MaxRunning",
	"vo2MaxValue",
	"vo2Max",
	"generic.vo2MaxPreciseValue",
	"generic.vo2MaxValue",
	"userData.vo2MaxRunning",
	"userData.vo2MaxValue",
}

func projectMetrics(body []byte) Metrics {
	root := gjson.ParseBytes(body)
	m := root.Get("metrics")
	if !m.Exists() {
		// Some deployments return the metrics object unwrapped
		m = root
	}

	return Metrics{
		Health:              projectHealth(m.Get("health")),
		Sleep:               projectSleep(m.Get("sleep")),
		RecentActivities:    projectActivities(m.Get("recent_activities")),
		RecentActivitiesRaw: rawOf(m.Get("recent_activities")),
		TodaysActivitiesRaw: rawOf(root.Get("todays_activities")),
		WeeklyVolume:        rawOf(m.Get("weekly_volume")),
	}
}

func projectHealth(r gjson.Result) Health {
	return Health{
		RestingHeartRate: intAt(r, "restingHeartRate"),
		AverageStress:    intAt(r, "averageStressLevel"),
		BodyBattery:      intAt(r, "bodyBatteryMostRecentValue"),
		TotalSteps:       intAt(r, "totalSteps"),
		Raw:              rawOf(r),
	}
}

func projectSleep(r gjson.Result) Sleep {
	return Sleep{
		SleepTimeSeconds: intAt(r, "dailySleepDTO.sleepTimeSeconds"),
		SleepScore:       intAt(r, "dailySleepDTO.sleepScores.overall.value"),
		Raw:              rawOf(r),
	}
}

func projectActivities(r gjson.Result) []Activity {
	if !r.IsArray() {
		return nil
	}
	items := r.Array()
	out := make([]Activity, 0, len(items))
	for _, a := range items {
		act := Activity{
			ID:              a.Get("activityId").Int(),
			Name:            a.Get("activityName").String(),
			Type:            a.Get("activityType.typeKey").String(),
			StartTimeLocal:  a.Get("startTimeLocal").String(),
			DistanceMeters:  a.Get("distance").Float(),
			DurationSeconds: a.Get("duration").Float(),
		}
		if hr := a.Get("averageHR"); isNumber(hr) {
			act.AverageHR = utils.Ptr(hr.Float())
		}
		out = append(out, act)
	}
	return out
}

func projectProfile(body []byte) *ProfileExtras {
	r := gjson.ParseBytes(body)
	if !r.IsObject() {
		return nil
	}
	p := &ProfileExtras{Raw: rawOf(r)}
	for _, path := range vo2MaxPaths {
		if v := r.Get(path); isNumber(v) && v.Float() > 0 {
			p.VO2Max = utils.Ptr(v.Float())
			break
		}
	}
	return p
}

// ParseWorkout projects a workout payload. It returns nil for null or empty input.
func ParseWorkout(raw json.RawMessage) *Workout {
	r := gjson.ParseBytes(raw)
	if !r.IsObject() {
		return nil
	}
	name := r.Get("workoutName").String()
	if name == "" {
		name = r.Get("workout_title").String()
	}
	return &Workout{
		Name:      name,
		Sport:     r.Get("sportType.sportTypeKey").String(),
		StepCount: int(r.Get("steps.#").Int()),
		Raw:       append(json.RawMessage(nil), raw...),
	}
}

func intAt(r gjson.Result, path string) *int {
	v := r.Get(path)
	if !isNumber(v) {
		return nil
	}
	return utils.Ptr(int(v.Int()))
}

func isNumber(r gjson.Result) bool {
	return r.Type == gjson.Number
}

func rawOf(r gjson.Result) json.RawMessage {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(r.Raw)
}
