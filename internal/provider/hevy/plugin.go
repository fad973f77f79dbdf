package hevy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"activity_ingest/internal/domain"
	"activity_ingest/internal/provider"
	"activity_ingest/internal/ratelimit"
)

const (
	ID          = "hevy"
	DisplayName = "Hevy"

	defaultBaseURL = "https://api.hevyapp.com/v1"
	pageSize       = 10
	maxDailyPages  = 5
)

type Config struct {
	BaseURL string
}

type Plugin struct {
	client *provider.Client
	now    func() time.Time
	logger *slog.Logger
}

func New(cfg Config, deps provider.Deps) *Plugin {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	client := deps.NewClient(provider.ClientConfig{
		Service:      ID,
		BaseURL:      cfg.BaseURL,
		Auth:         provider.AuthAPIKey,
		APIKeyHeader: "api-key",
		APIKeyField:  "api_key",
		Policy:       ratelimit.Policy{Floor: 5 * time.Second, Default: time.Minute},
	})

	return &Plugin{
		client: client,
		now:    deps.Now,
		logger: deps.Logger.With("provider", ID),
	}
}

func (p *Plugin) Identifier() string              { return ID }
func (p *Plugin) DisplayName() string             { return DisplayName }
func (p *Plugin) Capability() provider.Capability { return provider.CapabilityAPIKey }
func (p *Plugin) InstanceTypes() []string         { return []string{"workouts"} }

func (p *Plugin) ConfigurationSchema() provider.Schema {
	return provider.Schema{Fields: []provider.Field{
		{Key: "api_key", Label: "API key", Type: provider.FieldString},
		{Key: "weight_unit", Label: "Weight unit", Type: provider.FieldSelect, Options: []string{"kg", "lb"}, Default: "kg"},
	}}
}

// FetchData walks the newest pages until it reaches workouts older than the last successful run.
func (p *Plugin) FetchData(ctx context.Context, integration *domain.Integration) ([]json.RawMessage, error) {
	var since time.Time
	if integration.LastSuccessfulUpdateAt != nil {
		since = *integration.LastSuccessfulUpdateAt
	}

	var items []json.RawMessage
	for page := 1; page <= maxDailyPages; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("pageSize", strconv.Itoa(pageSize))

		resp, err := p.workouts(ctx, integration, q)
		if err != nil {
			return nil, err
		}

		reachedOld := false
		for _, w := range resp.Workouts {
			if !since.IsZero() && !w.updated().After(since) {
				reachedOld = true
				continue
			}
			items = append(items, w.raw)
		}
		if reachedOld || page >= resp.PageCount || len(resp.Workouts) < pageSize {
			break
		}
	}

	p.logger.Debug("fetched workouts", "integration_id", integration.ID, "count", len(items))
	return items, nil
}

func (p *Plugin) InitialCursor(_ *domain.Integration, now time.Time) domain.Cursor {
	return domain.Cursor{Kind: domain.CursorBefore, Before: now.UTC().Format(time.RFC3339)}
}

// FetchPage reads the workouts that started before the cursor; the next token is the oldest start time seen.
func (p *Plugin) FetchPage(ctx context.Context, integration *domain.Integration, cursor domain.Cursor) (*provider.Page, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("before", cursor.Before)

	resp, err := p.workouts(ctx, integration, q)
	if err != nil {
		return nil, err
	}

	page := &provider.Page{Items: make([]json.RawMessage, 0, len(resp.Workouts))}
	oldest := ""
	for _, w := range resp.Workouts {
		page.Items = append(page.Items, w.raw)
		if oldest == "" || w.StartTime < oldest {
			oldest = w.StartTime
		}
	}
	if oldest != "" {
		page.Next = &domain.Cursor{Kind: domain.CursorBefore, Before: oldest}
	}
	return page, nil
}

func (p *Plugin) workouts(ctx context.Context, integration *domain.Integration, q url.Values) (*workoutsResponse, error) {
	resp, err := p.client.Do(ctx, provider.Request{
		Path:        "/workouts",
		Query:       q,
		Integration: integration,
	})
	if err != nil {
		return nil, fmt.Errorf("list workouts: %w", err)
	}

	var out workoutsResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// rawWorkoutEntry keeps the provider bytes next to the fields paging needs.
type rawWorkoutEntry struct {
	StartTime string `json:"start_time"`
	UpdatedAt string `json:"updated_at"`
	raw       json.RawMessage
}

func (e *rawWorkoutEntry) UnmarshalJSON(b []byte) error {
	type fields rawWorkoutEntry
	var f fields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*e = rawWorkoutEntry(f)
	e.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (e rawWorkoutEntry) updated() time.Time {
	for _, s := range []string{e.UpdatedAt, e.StartTime} {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

const lbPerKg = 2.20462

func (p *Plugin) ConvertData(_ context.Context, integration *domain.Integration, raw json.RawMessage) (*domain.Converted, error) {
	var w Workout
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMalformedPayload, err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: workout without id", domain.ErrMalformedPayload)
	}

	start, err := time.Parse(time.RFC3339, w.StartTime)
	if err != nil {
		return nil, fmt.Errorf("%w: workout %s start time: %w", domain.ErrMalformedPayload, w.ID, err)
	}

	unit := "kg"
	if integration != nil && integration.ConfigString("weight_unit") == "lb" {
		unit = "lb"
	}
	weight := func(kg float64) float64 {
		if unit == "lb" {
			return kg * lbPerKg
		}
		return kg
	}

	var (
		volume    float64
		totalReps int
		blocks    []domain.BlockInput
		seen      = map[string]int{}
	)
	for _, ex := range w.Exercises {
		for _, set := range ex.Sets {
			seen[ex.Title]++
			block := domain.BlockInput{
				BlockType: "exercise_set",
				Title:     fmt.Sprintf("%s set %d", ex.Title, seen[ex.Title]),
				Metadata: domain.Metadata{
					"exercise_template_id": ex.ExerciseTemplateID,
					"set_type":             set.Type,
				},
			}
			if set.Reps != nil {
				block.Metadata["reps"] = *set.Reps
				totalReps += *set.Reps
			}
			if set.RPE != nil {
				block.Metadata["rpe"] = *set.RPE
			}
			if set.DurationSeconds != nil {
				block.Metadata["duration_seconds"] = *set.DurationSeconds
			}
			if set.DistanceMeters != nil {
				block.Metadata["distance_meters"] = *set.DistanceMeters
			}
			if set.WeightKg != nil {
				v, err := domain.EncodeValue(weight(*set.WeightKg), unit)
				if err != nil {
					return nil, fmt.Errorf("workout %s set weight: %w", w.ID, err)
				}
				block.Value = &v
				if set.Reps != nil {
					volume += *set.WeightKg * float64(*set.Reps)
				}
			}
			blocks = append(blocks, block)
		}
	}

	metadata := domain.Metadata{
		"exercises":  len(w.Exercises),
		"total_reps": totalReps,
	}
	if end, err := time.Parse(time.RFC3339, w.EndTime); err == nil {
		metadata["duration_seconds"] = int(end.Sub(start).Seconds())
	}
	if w.Description != "" {
		metadata["description"] = w.Description
	}

	value, err := domain.EncodeValue(weight(volume), unit)
	if err != nil {
		return nil, fmt.Errorf("workout %s volume: %w", w.ID, err)
	}
	title := w.Title
	if title == "" {
		title = "Workout"
	}

	return &domain.Converted{Events: []domain.EventInput{{
		SourceID:      w.ID,
		Time:          start,
		Actor:         domain.ObjectInput{Concept: "user", Type: "hevy_user", Title: "Hevy"},
		Target:        domain.ObjectInput{Concept: "workout", Type: "hevy_workout", Title: title},
		Domain:        "health",
		Action:        "completed_workout",
		Value:         &value,
		EventMetadata: metadata,
		Blocks:        blocks,
	}}}, nil
}
