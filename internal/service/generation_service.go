// Package service implements the job lifecycle: creation, submission to
// the remote engine, periodic reconciliation against the engine's status,
// and materialization of tracks from completed jobs.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tracklab/api/internal/apperrors"
	"github.com/tracklab/api/internal/client"
	"github.com/tracklab/api/internal/model"
	"github.com/tracklab/api/internal/poller"
	"github.com/tracklab/api/internal/store/postgres"
)

// JobStore is the persistence port for jobs and tracks.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, error)
	JobsByStatus(ctx context.Context, status model.JobStatus) ([]*model.Job, error)
	UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error
	DeleteJob(ctx context.Context, id string) error

	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrack(ctx context.Context, id string) (*model.Track, error)
	ListTracks(ctx context.Context, limit, offset int) ([]*model.Track, error)
	TracksByJob(ctx context.Context, jobID string) ([]*model.Track, error)
	DeleteTracksByJob(ctx context.Context, jobID string) error
	UpdateTrackMirror(ctx context.Context, id, publicURL, storageKey string) error
}

// ProgressBroadcaster pushes live job updates to subscribed clients.
type ProgressBroadcaster interface {
	BroadcastProgress(jobID string, progress int, step, message string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// GenerationService orchestrates generation jobs end to end.
type GenerationService struct {
	store   JobStore
	engine  client.GenerationEngine
	pollers *poller.Registry
	storage client.StorageClient
	hub     ProgressBroadcaster
}

// NewGenerationService wires the orchestrator. storage and hub are
// optional; nil disables artifact mirroring and live updates respectively.
func NewGenerationService(store JobStore, engine client.GenerationEngine, pollers *poller.Registry, storage client.StorageClient, hub ProgressBroadcaster) *GenerationService {
	return &GenerationService{
		store:   store,
		engine:  engine,
		pollers: pollers,
		storage: storage,
		hub:     hub,
	}
}

// CreateJob validates the request, persists a pending job, submits it to
// the engine and starts polling. A submission failure is recorded on the
// job (pending -> failed) and surfaced to the caller.
func (s *GenerationService) CreateJob(ctx context.Context, req *model.GenerationRequest) (*model.GenerationAccepted, error) {
	req.ApplyDefaults()
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	requestData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	job := &model.Job{
		ID:          uuid.New().String(),
		Type:        model.JobTypeGeneration,
		Status:      model.JobStatusPending,
		Progress:    0,
		RequestData: requestData,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	ack, err := s.engine.Submit(ctx, req)
	if err != nil {
		s.failJob(ctx, job.ID, fmt.Sprintf("Engine submission failed: %v", err))
		return nil, apperrors.Submission("failed to submit generation job", err)
	}
	if ack.ExternalID == "" {
		s.failJob(ctx, job.ID, "Engine accepted the job but returned no job id")
		return nil, apperrors.Submission("engine returned no job id", nil)
	}

	status := model.JobStatusProcessing
	message := ack.Message
	if message == "" {
		message = "Generation started"
	}
	upd := model.JobUpdate{
		Status:     &status,
		Message:    &message,
		ExternalID: &ack.ExternalID,
	}
	if err := s.store.UpdateJob(ctx, job.ID, upd); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	s.pollers.Start(job.ID, s.reconcile)
	log.Printf("[Generation] job %s submitted, engine id %s", job.ID, ack.ExternalID)

	return &model.GenerationAccepted{
		JobID:   job.ID,
		Status:  "accepted",
		Message: "Generation job started",
	}, nil
}

// GetJob returns the full job view with the parsed request and, if the job
// completed, the engine result.
func (s *GenerationService) GetJob(ctx context.Context, id string) (*model.JobView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperrors.NotFound("job", id)
		}
		return nil, err
	}

	view := &model.JobView{Job: *job}
	if len(job.RequestData) > 0 {
		var req model.GenerationRequest
		if err := json.Unmarshal(job.RequestData, &req); err == nil {
			view.Request = &req
		}
	}
	if len(job.ResultData) > 0 {
		var result map[string]interface{}
		if err := json.Unmarshal(job.ResultData, &result); err == nil {
			view.Result = result
		}
	}
	return view, nil
}

// ListJobs returns job summaries, newest first.
func (s *GenerationService) ListJobs(ctx context.Context, limit, offset int) ([]*model.JobSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	jobs, err := s.store.ListJobs(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	summaries := make([]*model.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summary := &model.JobSummary{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Progress:  job.Progress,
			CreatedAt: job.CreatedAt,
		}
		if len(job.RequestData) > 0 {
			var req model.GenerationRequest
			if err := json.Unmarshal(job.RequestData, &req); err == nil {
				summary.Prompt = req.Prompt
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// DeleteJob stops polling, removes mirrored artifacts and deletes the job
// with its tracks. Deleting a job that does not exist is a no-op.
func (s *GenerationService) DeleteJob(ctx context.Context, id string) error {
	s.pollers.Stop(id)

	tracks, err := s.store.TracksByJob(ctx, id)
	if err != nil {
		return err
	}
	if s.storage != nil {
		for _, track := range tracks {
			if track.StorageKey == "" {
				continue
			}
			if err := s.storage.Delete(ctx, track.StorageKey); err != nil {
				log.Printf("[Generation] WARN: failed to delete mirrored object %s: %v", track.StorageKey, err)
			}
		}
	}

	if err := s.store.DeleteTracksByJob(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteJob(ctx, id); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil
		}
		return err
	}
	log.Printf("[Generation] job %s deleted", id)
	return nil
}

// GetTrack returns a track by id.
func (s *GenerationService) GetTrack(ctx context.Context, id string) (*model.Track, error) {
	track, err := s.store.GetTrack(ctx, id)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return nil, apperrors.NotFound("track", id)
		}
		return nil, err
	}
	return track, nil
}

// ListTracks returns tracks, newest first.
func (s *GenerationService) ListTracks(ctx context.Context, limit, offset int) ([]*model.Track, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListTracks(ctx, limit, offset)
}

// ResumePolling reattaches pollers to jobs that were in flight when the
// process last stopped. Jobs stuck in processing without an engine id can
// never make progress and are failed outright.
func (s *GenerationService) ResumePolling(ctx context.Context) error {
	jobs, err := s.store.JobsByStatus(ctx, model.JobStatusProcessing)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.ExternalID == nil || *job.ExternalID == "" {
			s.failJob(ctx, job.ID, "Job orphaned by restart before engine submission completed")
			continue
		}
		s.pollers.Start(job.ID, s.reconcile)
		log.Printf("[Generation] resumed polling for job %s", job.ID)
	}
	return nil
}

// Cleanup stops every poller and waits for them to exit. Call before
// closing the store.
func (s *GenerationService) Cleanup() {
	s.pollers.StopAll()
}

// reconcile performs one status round trip for a job. It returns true when
// the job has reached a terminal state and polling should stop.
func (s *GenerationService) reconcile(ctx context.Context, jobID string) bool {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			// Deleted out from under the poller.
			return true
		}
		log.Printf("[Generation] WARN: poll read for job %s failed: %v", jobID, err)
		return ctx.Err() != nil
	}
	if job.Status.IsTerminal() {
		return true
	}
	if job.ExternalID == nil || *job.ExternalID == "" {
		return false
	}

	snapshot, err := s.engine.Status(ctx, *job.ExternalID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient: keep status, progress and error untouched, only
		// annotate the message so operators can see the poll is degraded.
		message := apperrors.TransientPoll(err).Error()
		if uerr := s.store.UpdateJob(ctx, jobID, model.JobUpdate{Message: &message}); uerr != nil {
			log.Printf("[Generation] WARN: failed to annotate job %s: %v", jobID, uerr)
		}
		return false
	}

	switch model.StatusFromEngine(snapshot.Status) {
	case model.JobStatusCompleted:
		s.materializeCompletion(ctx, job)
		return true
	case model.JobStatusFailed:
		detail := "Generation failed"
		if snapshot.Error != nil && *snapshot.Error != "" {
			detail = *snapshot.Error
		}
		s.failJob(ctx, jobID, detail)
		if s.hub != nil {
			s.hub.BroadcastError(jobID, "GENERATION_FAILED", detail)
		}
		return true
	default:
		s.mergeProgress(ctx, job, snapshot)
		return false
	}
}

// mergeProgress folds an in-flight snapshot into the stored job. Only the
// fields present in the snapshot are written, and progress is monotone: a
// snapshot can never move it backwards.
func (s *GenerationService) mergeProgress(ctx context.Context, job *model.Job, snapshot *client.StatusSnapshot) {
	status := model.JobStatusProcessing
	step := snapshot.Status
	upd := model.JobUpdate{Status: &status, CurrentStep: &step}

	progress := job.Progress
	if snapshot.Progress != nil {
		if p := progressPercent(*snapshot.Progress); p > progress {
			progress = p
		}
		upd.Progress = &progress
	}

	message := job.Message
	if snapshot.Message != nil {
		message = *snapshot.Message
		upd.Message = &message
	}
	if snapshot.Error != nil {
		upd.Error = snapshot.Error
	}

	if err := s.store.UpdateJob(ctx, job.ID, upd); err != nil {
		log.Printf("[Generation] WARN: failed to update job %s: %v", job.ID, err)
		return
	}
	if s.hub != nil {
		s.hub.BroadcastProgress(job.ID, progress, step, message)
	}
}

// materializeCompletion fetches the engine result, creates the track and
// only then flips the job to completed. A failure at any point fails the
// job instead; completed is only ever observed with its track in place.
func (s *GenerationService) materializeCompletion(ctx context.Context, job *model.Job) {
	result, err := s.engine.Result(ctx, *job.ExternalID)
	if err != nil {
		merr := apperrors.Materialization("failed to fetch generation result", err)
		s.failJob(ctx, job.ID, merr.Error())
		if s.hub != nil {
			s.hub.BroadcastError(job.ID, "RESULT_FETCH_FAILED", merr.Error())
		}
		return
	}
	if result.Duration <= 0 || result.MP3 == nil || result.MP3.Path == "" {
		detail := "Engine result is missing the audio artifact"
		s.failJob(ctx, job.ID, detail)
		if s.hub != nil {
			s.hub.BroadcastError(job.ID, "RESULT_INVALID", detail)
		}
		return
	}

	var req model.GenerationRequest
	if len(job.RequestData) > 0 {
		_ = json.Unmarshal(job.RequestData, &req)
	}

	track := &model.Track{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		Title:       model.TitleFromPrompt(req.Prompt),
		Duration:    result.Duration,
		FilePathMP3: result.MP3.Path,
		Metadata:    trackMetadata(&req),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if result.WAV != nil {
		track.FilePathWAV = result.WAV.Path
	}

	if err := s.store.CreateTrack(ctx, track); err != nil {
		s.failJob(ctx, job.ID, fmt.Sprintf("Failed to save track: %v", err))
		if s.hub != nil {
			s.hub.BroadcastError(job.ID, "TRACK_SAVE_FAILED", err.Error())
		}
		return
	}

	s.mirrorArtifact(ctx, track)

	resultData, err := json.Marshal(result)
	if err != nil {
		resultData = nil
	}
	status := model.JobStatusCompleted
	progress := 100
	message := "Generation completed"
	upd := model.JobUpdate{
		Status:     &status,
		Progress:   &progress,
		Message:    &message,
		ClearError: true,
		ResultData: resultData,
	}
	if err := s.store.UpdateJob(ctx, job.ID, upd); err != nil {
		log.Printf("[Generation] WARN: failed to complete job %s: %v", job.ID, err)
		return
	}

	log.Printf("[Generation] job %s completed, track %s (%.1fs)", job.ID, track.ID, track.Duration)
	if s.hub != nil {
		s.hub.BroadcastComplete(job.ID, track)
	}
}

// mirrorArtifact uploads the finished audio to object storage. Mirroring
// is best effort: the local engine path remains authoritative.
func (s *GenerationService) mirrorArtifact(ctx context.Context, track *model.Track) {
	if s.storage == nil || s.engine == nil {
		return
	}
	body, err := s.engine.FetchArtifact(ctx, track.FilePathMP3)
	if err != nil {
		log.Printf("[Generation] WARN: failed to fetch artifact for track %s: %v", track.ID, err)
		return
	}
	defer body.Close()

	key := fmt.Sprintf("tracks/%s.mp3", track.ID)
	publicURL, err := s.storage.Upload(ctx, key, body, "audio/mpeg")
	if err != nil {
		log.Printf("[Generation] WARN: failed to mirror track %s: %v", track.ID, err)
		return
	}

	track.PublicURL = publicURL
	track.StorageKey = key
	if err := s.store.UpdateTrackMirror(ctx, track.ID, publicURL, key); err != nil {
		log.Printf("[Generation] WARN: failed to record mirror for track %s: %v", track.ID, err)
	}
}

func (s *GenerationService) failJob(ctx context.Context, jobID, detail string) {
	status := model.JobStatusFailed
	message := "Generation failed"
	upd := model.JobUpdate{
		Status:  &status,
		Message: &message,
		Error:   &detail,
	}
	if err := s.store.UpdateJob(ctx, jobID, upd); err != nil {
		log.Printf("[Generation] WARN: failed to mark job %s failed: %v", jobID, err)
	}
}

func validateRequest(req *model.GenerationRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return apperrors.Validation("prompt", "Prompt is required")
	}
	if req.DurationSeconds < model.MinDurationSeconds || req.DurationSeconds > model.MaxDurationSeconds {
		return apperrors.Validation("durationSeconds",
			fmt.Sprintf("Duration must be between %d and %d seconds", model.MinDurationSeconds, model.MaxDurationSeconds))
	}
	valid := false
	for _, lang := range model.ValidLanguages {
		if req.Language == lang {
			valid = true
			break
		}
	}
	if !valid {
		return apperrors.Validation("language",
			fmt.Sprintf("Language must be one of: %s", strings.Join(model.ValidLanguages, ", ")))
	}
	return nil
}

func trackMetadata(req *model.GenerationRequest) map[string]string {
	metadata := map[string]string{
		"prompt":   req.Prompt,
		"language": req.Language,
		"genre":    req.Genre,
		"mood":     req.Mood,
	}
	if metadata["genre"] == "" {
		metadata["genre"] = "unknown"
	}
	if metadata["mood"] == "" {
		metadata["mood"] = "unknown"
	}
	return metadata
}

// progressPercent converts the engine's [0,1] fraction to a clamped
// percentage.
func progressPercent(fraction float64) int {
	p := int(fraction * 100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
