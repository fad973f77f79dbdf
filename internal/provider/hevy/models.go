package hevy

type Set struct {
	Index           int      `json:"index"`
	Type            string   `json:"type"`
	WeightKg        *float64 `json:"weight_kg"`
	Reps            *int     `json:"reps"`
	DistanceMeters  *float64 `json:"distance_meters"`
	DurationSeconds *int     `json:"duration_seconds"`
	RPE             *float64 `json:"rpe"`
}

type Exercise struct {
	Index              int    `json:"index"`
	Title              string `json:"title"`
	Notes              string `json:"notes"`
	ExerciseTemplateID string `json:"exercise_template_id"`
	Sets               []Set  `json:"sets"`
}

type Workout struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	StartTime   string     `json:"start_time"`
	EndTime     string     `json:"end_time"`
	UpdatedAt   string     `json:"updated_at"`
	Exercises   []Exercise `json:"exercises"`
}

type workoutsResponse struct {
	Page      int               `json:"page"`
	PageCount int               `json:"page_count"`
	Workouts  []rawWorkoutEntry `json:"workouts"`
}
