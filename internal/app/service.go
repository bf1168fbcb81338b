package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shrimpsizemoose/lussekatt/internal/grading"
	"github.com/shrimpsizemoose/lussekatt/internal/models"
	"github.com/shrimpsizemoose/lussekatt/internal/notify"
	"github.com/shrimpsizemoose/lussekatt/internal/store"
)

type Service struct {
	Config   *Config
	Store    store.WorkflowStore
	Queue    *grading.Queue
	Auth     *Auth
	Notifier notify.Notifier
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	workflowStore, err := NewStore(config.Database.DSN, config.Database.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	auth, err := NewAuth(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	var notifier notify.Notifier = notify.NoopNotifier{}
	if config.Notify.Enabled {
		notifier, err = notify.NewRedisNotifier(config.Notify.RedisURL, config.Notify.Stream)
		if err != nil {
			return nil, fmt.Errorf("failed to init notifier: %w", err)
		}
	}

	return &Service{
		Config:   config,
		Store:    workflowStore,
		Queue:    grading.NewQueue(workflowStore, config.LeaseDuration()),
		Auth:     auth,
		Notifier: notifier,
	}, nil
}

func (s *Service) ValidateAuthAndScorer(r *http.Request, course, scorer string) error {
	if !s.Config.Server.EnableAuth {
		return nil
	}

	authHeader := r.Header.Get(s.Auth.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("Invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	return s.Auth.ValidateToken(r.Context(), course, scorer, token)
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

// CompleteGrading finalizes the workflow and fires the completion
// event. The event is best-effort: a delivery failure is logged by
// the notifier and never undoes the completion.
func (s *Service) CompleteGrading(ctx context.Context, submissionUUID, scorerID, assessment string) error {
	if err := s.Queue.Complete(submissionUUID, scorerID, assessment, time.Now().UTC()); err != nil {
		return err
	}

	s.publishEvent(ctx, notify.EventCompleted, submissionUUID, scorerID, "", scorerID)
	return nil
}

func (s *Service) CancelSubmission(ctx context.Context, submissionUUID, reason, actorID string) error {
	if err := s.Queue.Cancel(submissionUUID, time.Now().UTC()); err != nil {
		return err
	}

	s.publishEvent(ctx, notify.EventCancelled, submissionUUID, "", reason, actorID)
	return nil
}

func (s *Service) ReturnSubmission(ctx context.Context, submissionUUID, reason, actorID string) error {
	if err := s.Queue.Return(submissionUUID, time.Now().UTC()); err != nil {
		return err
	}

	s.publishEvent(ctx, notify.EventReturned, submissionUUID, "", reason, actorID)
	return nil
}

func (s *Service) publishEvent(ctx context.Context, kind, submissionUUID, scorerID, reason, actorID string) {
	event := notify.Event{
		Kind:           kind,
		SubmissionUUID: submissionUUID,
		ScorerID:       scorerID,
		Reason:         reason,
		ActorID:        actorID,
	}
	if w, err := s.Store.GetWorkflow(submissionUUID); err == nil {
		event.Course = w.CourseID
		event.Item = w.ItemID
		if scorerID == "" {
			event.ScorerID = w.ScorerID
		}
	}
	s.Notifier.Publish(ctx, event)
}

// Category builds a validated category key from path segments.
func (s *Service) Category(course, item string) (models.CategoryKey, error) {
	category := models.CategoryKey{CourseID: course, ItemID: item}
	if err := category.Validate(); err != nil {
		return models.CategoryKey{}, fmt.Errorf("invalid category: %w", err)
	}
	return category, nil
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Auth.Close(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}
	if err := s.Notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("notifier: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
