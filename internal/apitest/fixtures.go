package apitest

const dailyMetricsJSON = `{
	"metrics": {
		"health": {"restingHeartRate": 48, "averageStressLevel": 24, "bodyBatteryMostRecentValue": 76, "totalSteps": 9120},
		"sleep": {"dailySleepDTO": {"sleepTimeSeconds": 26640, "sleepScores": {"overall": {"value": 82}}}},
		"weekly_volume": {"distance_km": {"2026-W10": 38.2, "2026-W11": 41.0}},
		"recent_activities": [
			{"activityId": 2001, "activityName": "Easy Run", "activityType": {"typeKey": "running"}, "distance": 8000, "duration": 2700, "startTimeLocal": "2026-03-14 07:10:00", "averageHR": 138},
			{"activityId": 2002, "activityName": "Threshold Intervals", "activityType": {"typeKey": "running"}, "distance": 11000, "duration": 3300, "startTimeLocal": "2026-03-12 18:00:00", "averageHR": 158}
		]
	},
	"todays_activities": []
}`

const profileJSON = `{"displayName": "runner", "userData": {"vo2MaxRunning": 54.0, "lactateThresholdHeartRate": 168}}`

const defaultSettingsJSON = `{"primary_sport":"Running","language":"en","strength_days":0,"metrics":{},"races":[],"coach_style":"Supportive"}`

const workoutJSON = `{
	"workoutName": "AI Coach - Tempo Run",
	"sportType": {"sportTypeId": 1, "sportTypeKey": "running"},
	"description": "AI Generated workout",
	"steps": [
		{"type": "ExecutableStepDTO", "stepOrder": 1, "description": "Warmup", "endConditionValue": 600},
		{"type": "ExecutableStepDTO", "stepOrder": 2, "description": "Tempo", "endConditionValue": 1200},
		{"type": "ExecutableStepDTO", "stepOrder": 3, "description": "Cooldown", "endConditionValue": 600}
	]
}`

const healthHistoryJSON = `[{"date":"2026-03-13","restingHeartRate":49},{"date":"2026-03-14","restingHeartRate":48}]`

const planJSON = `{"weeks":[{"week":1,"focus":"Base","days":[{"day":"Mon","workout_title":"Rest"}]}]}`
