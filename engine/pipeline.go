package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tripstream/tripstream/gather"
	"github.com/tripstream/tripstream/itinerary"
	"github.com/tripstream/tripstream/llm"
	"github.com/tripstream/tripstream/metrics"
	"github.com/tripstream/tripstream/provider"
	"github.com/tripstream/tripstream/replan"
	"github.com/tripstream/tripstream/storage"
	"github.com/tripstream/tripstream/task"
)

// errCancelled aborts a pipeline after a cooperative cancellation has been
// finalized. It never reaches the task record.
var errCancelled = errors.New("task cancelled")

func (e *Engine) runGenerate(ctx context.Context, taskID, conversationID string, req provider.Request, days int, slots map[string]string) {
	started := e.now()

	t, err := e.tasks.Start(ctx, taskID)
	if err != nil {
		e.finish(taskID, started, "", err)
		return
	}
	if t.Status != task.StatusRunning {
		// Cancelled while pending.
		metrics.ObserveTaskFinished(t, started)
		return
	}

	versionID, err := e.generate(ctx, taskID, conversationID, req, days, slots)
	e.finish(taskID, started, versionID, err)
}

func (e *Engine) generate(ctx context.Context, taskID, conversationID string, req provider.Request, days int, slots map[string]string) (string, error) {
	if _, err := e.tasks.Advance(ctx, taskID, task.StepIntentExtraction, 1, "Request understood"); err != nil {
		return "", err
	}
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepDataGathering, 0, "Gathering travel data"); err != nil {
		return "", err
	}
	gathered := e.gatherer.Gather(ctx, req, e.gatherProgress(ctx, taskID))
	if _, err := e.tasks.SetSources(ctx, taskID, gathered.SourceStatuses()); err != nil {
		return "", err
	}
	// A cancellation during gathering lands here: the batch completed, its
	// result is discarded.
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepPlanComposition, 0, "Composing your itinerary"); err != nil {
		return "", err
	}
	plan, err := e.composer.Compose(ctx, slots, days, gathered)
	if err != nil {
		return "", err
	}
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepFinalization, 0.3, "Saving itinerary"); err != nil {
		return "", err
	}
	version := e.buildVersion(conversationID, nil, req, plan, gathered)
	if err := e.itineraries.Save(ctx, version); err != nil {
		return "", err
	}
	return version.ID, nil
}

func (e *Engine) runReplan(ctx context.Context, taskID string, parent itinerary.Version, scope replan.Scope, modification string) {
	started := e.now()

	t, err := e.tasks.Start(ctx, taskID)
	if err != nil {
		e.finish(taskID, started, "", err)
		return
	}
	if t.Status != task.StatusRunning {
		metrics.ObserveTaskFinished(t, started)
		return
	}

	versionID, err := e.revise(ctx, taskID, parent, scope, modification)
	e.finish(taskID, started, versionID, err)
}

func (e *Engine) revise(ctx context.Context, taskID string, parent itinerary.Version, scope replan.Scope, modification string) (string, error) {
	req, err := requestFromVersion(parent)
	if err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepIntentExtraction, 1,
		fmt.Sprintf("Change scoped to days %v", scope.Days)); err != nil {
		return "", err
	}
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepDataGathering, 0, "Refreshing travel data"); err != nil {
		return "", err
	}
	gathered := e.gatherer.GatherSubset(ctx, req, scope.Sources, e.gatherProgress(ctx, taskID))
	merged := mergeSourceStatuses(parent.Sources, gathered)
	if _, err := e.tasks.SetSources(ctx, taskID, merged); err != nil {
		return "", err
	}
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepPlanComposition, 0, "Revising your itinerary"); err != nil {
		return "", err
	}
	parentJSON, err := json.Marshal(parent)
	if err != nil {
		return "", fmt.Errorf("marshal parent version: %w", err)
	}
	plan, err := e.composer.Revise(ctx, parentJSON, modification, scope.Days, gathered)
	if err != nil {
		return "", err
	}
	if err := e.checkCancel(ctx, taskID); err != nil {
		return "", err
	}

	if _, err := e.tasks.Advance(ctx, taskID, task.StepFinalization, 0.3, "Saving itinerary"); err != nil {
		return "", err
	}

	version := e.buildVersion(parent.ConversationID, &parent, req, plan, gathered)
	version.Sources = merged
	version.Days = replan.ApplyRevision(parent, scope, e.revisedDays(parent, plan, gathered, version.Currency))
	if version.Summary == "" {
		version.Summary = parent.Summary
	}
	if version.TotalEstimatedCost == 0 {
		version.TotalEstimatedCost = parent.TotalEstimatedCost
	}

	if err := e.itineraries.Save(ctx, version); err != nil {
		if errors.Is(err, itinerary.ErrStaleParent) {
			return "", task.NewFailure(task.CodeInvalidRequest,
				"the itinerary changed while this modification ran; retry against the latest version")
		}
		return "", err
	}
	return version.ID, nil
}

// gatherProgress maps batch resolution onto the data-gathering progress band.
func (e *Engine) gatherProgress(ctx context.Context, taskID string) gather.Progress {
	return func(resolved, total int) {
		_, _ = e.tasks.Advance(ctx, taskID, task.StepDataGathering,
			float64(resolved)/float64(total),
			fmt.Sprintf("Gathered %d of %d sources", resolved, total))
	}
}

// checkCancel finalizes a requested cancellation at a step boundary and
// reports it as errCancelled so the pipeline unwinds without failing the
// task.
func (e *Engine) checkCancel(ctx context.Context, taskID string) error {
	t, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if !t.CancelRequested {
		return nil
	}
	if _, err := e.tasks.Cancel(ctx, taskID); err != nil {
		return err
	}
	return errCancelled
}

// finish records the pipeline outcome. It uses a fresh context: the task's
// own context may already be expired, and the terminal transition must still
// be persisted.
func (e *Engine) finish(taskID string, started time.Time, versionID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var t task.Task
	var err error
	switch {
	case runErr == nil:
		t, err = e.tasks.Complete(ctx, taskID, versionID)
	case errors.Is(runErr, errCancelled):
		t, err = e.tasks.Get(ctx, taskID)
	default:
		failure := e.classifyFailure(runErr)
		e.logger.Error("Task failed",
			"task_id", taskID,
			"code", failure.Code,
			"retryable", failure.Retryable,
			"error", runErr)
		t, err = e.tasks.Fail(ctx, taskID, failure)
	}
	if err != nil {
		e.logger.Error("Recording task outcome failed", "task_id", taskID, "error", err)
		return
	}
	metrics.ObserveTaskFinished(t, started)
}

// classifyFailure maps a pipeline error onto the failure taxonomy.
func (e *Engine) classifyFailure(err error) *task.Failure {
	var failure *task.Failure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, storage.ErrUnavailable) {
		return task.NewFailure(task.CodeStorageUnavailable, "storage is unavailable; please retry")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return task.NewFailure(task.CodeCompositionFailure, "the task exceeded its time limit; please retry")
	}
	if llm.IsFatal(err) {
		f := task.NewFailure(task.CodeCompositionFailure, "plan composition was rejected by the language model")
		f.Retryable = false
		f.RetryAfterSeconds = 0
		return f
	}
	return task.FailureFromError(err)
}

// buildVersion assembles a version from a composed plan plus the gather batch
// that fed it.
func (e *Engine) buildVersion(conversationID string, parent *itinerary.Version, req provider.Request, plan *llm.Plan, gathered gather.Result) itinerary.Version {
	v := itinerary.NewVersion(conversationID, parent)
	if parent == nil {
		v.Destination = req.Destination
		v.StartDate = req.StartDate.Format("2006-01-02")
		v.EndDate = req.EndDate.Format("2006-01-02")
		v.Currency = req.Currency
	}
	if plan.Currency != "" {
		v.Currency = plan.Currency
	}
	v.Summary = plan.Summary
	v.TotalEstimatedCost = plan.TotalEstimatedCost
	v.Sources = gathered.SourceStatuses()
	v.Days = e.planDays(plan, req, gathered, v.Currency)
	return v
}

// planDays converts composed days into itinerary days, attaching per-day
// weather, destination images, and transit notes from the batch.
func (e *Engine) planDays(plan *llm.Plan, req provider.Request, gathered gather.Result, currency string) []itinerary.Day {
	ordered := append([]llm.PlanDay(nil), plan.Days...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Day < ordered[j].Day })

	images := gatheredImages(gathered)
	notes := transitNotes(gathered)
	imageIdx := 0

	out := make([]itinerary.Day, 0, len(ordered))
	for _, pd := range ordered {
		day := itinerary.Day{
			ID:      uuid.NewString(),
			Index:   pd.Day,
			Date:    pd.Date,
			Summary: pd.Summary,
		}
		if day.Date == "" && !req.StartDate.IsZero() {
			day.Date = req.StartDate.AddDate(0, 0, pd.Day-1).Format("2006-01-02")
		}

		for _, pa := range pd.Activities {
			act := itinerary.Activity{
				ID:              uuid.NewString(),
				Name:            pa.Name,
				Description:     pa.Description,
				Category:        pa.Category,
				StartTime:       pa.StartTime,
				DurationMinutes: pa.DurationMinutes,
				Location:        pa.Location,
				EstimatedCost:   pa.EstimatedCost,
				Currency:        currency,
			}
			if imageIdx < len(images) {
				act.ImageURL = images[imageIdx].URL
				imageIdx++
			}
			day.Activities = append(day.Activities, act)
		}

		attachWeather(&day, gathered)
		if pd.Day == 1 {
			day.TransitNotes = notes
		}
		out = append(out, day)
	}
	return out
}

// revisedDays converts in-scope plan days for replanning. Weather carries
// over from the parent day unless the batch re-fetched it.
func (e *Engine) revisedDays(parent itinerary.Version, plan *llm.Plan, gathered gather.Result, currency string) map[int]itinerary.Day {
	req, _ := requestFromVersion(parent)
	_, refetchedWeather := gathered.Entries[provider.SourceWeather]

	out := make(map[int]itinerary.Day, len(plan.Days))
	for _, day := range e.planDays(plan, req, gathered, currency) {
		if !refetchedWeather {
			if base, ok := parent.DayByIndex(day.Index); ok {
				day.Weather = base.Weather
				day.WeatherSynthesized = base.WeatherSynthesized
			}
		}
		out[day.Index] = day
	}
	return out
}

func attachWeather(day *itinerary.Day, gathered gather.Result) {
	entry, ok := gathered.Entries[provider.SourceWeather]
	if !ok {
		return
	}
	forecast, ok := entry.Payload.(provider.WeatherForecast)
	if !ok {
		return
	}
	for i := range forecast.Days {
		if forecast.Days[i].Date == day.Date {
			wd := forecast.Days[i]
			day.Weather = &wd
			day.WeatherSynthesized = entry.Synthesized
			return
		}
	}
}

func gatheredImages(gathered gather.Result) []provider.ImageResult {
	entry, ok := gathered.Entries[provider.SourceImages]
	if !ok {
		return nil
	}
	results, ok := entry.Payload.(provider.ImageResults)
	if !ok {
		return nil
	}
	return results.Images
}

func transitNotes(gathered gather.Result) []string {
	entry, ok := gathered.Entries[provider.SourceTransit]
	if !ok {
		return nil
	}
	routes, ok := entry.Payload.(provider.TransitRoutes)
	if !ok {
		return nil
	}
	var notes []string
	for _, leg := range routes.Legs {
		note := leg.Summary
		if note == "" {
			note = fmt.Sprintf("%s: %s to %s (~%d min)", leg.Mode, leg.From, leg.To, leg.DurationMinutes)
		}
		notes = append(notes, note)
	}
	return notes
}

// mergeSourceStatuses overlays a subset batch's outcomes on the parent
// version's source record, in stable source order. Sources outside the
// subset keep their previous state.
func mergeSourceStatuses(parents []task.SourceStatus, gathered gather.Result) []task.SourceStatus {
	fresh := make(map[provider.Source]task.SourceStatus)
	for _, s := range gathered.SourceStatuses() {
		fresh[s.Source] = s
	}
	inherited := make(map[provider.Source]task.SourceStatus)
	for _, s := range parents {
		inherited[s.Source] = s
	}

	var out []task.SourceStatus
	for _, source := range provider.AllSources() {
		if s, ok := fresh[source]; ok {
			out = append(out, s)
			continue
		}
		if s, ok := inherited[source]; ok {
			out = append(out, s)
		}
	}
	return out
}

// requestFromVersion rebuilds the provider request a version was planned
// from, for subset re-fetches.
func requestFromVersion(v itinerary.Version) (provider.Request, error) {
	start, err := time.Parse("2006-01-02", v.StartDate)
	if err != nil {
		return provider.Request{}, fmt.Errorf("parse version start date: %w", err)
	}
	end, err := time.Parse("2006-01-02", v.EndDate)
	if err != nil {
		return provider.Request{}, fmt.Errorf("parse version end date: %w", err)
	}
	return provider.Request{
		Destination: v.Destination,
		StartDate:   start,
		EndDate:     end,
		Budget:      v.TotalEstimatedCost,
		Currency:    v.Currency,
	}, nil
}
