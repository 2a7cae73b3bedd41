// ABOUTME: Reviewer applies suggestion decisions: accept, reject, or merge into a project
// ABOUTME: Each decision is one transaction guarded by the suggestion's Pending status
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harper/chatlake/internal/logging"
	"github.com/harper/chatlake/internal/models"
	"github.com/harper/chatlake/internal/storage/sqlite"
)

// Reviewer resolves ProjectSuggestions
type Reviewer struct {
	store  *sqlite.Storage
	logger *logging.Logger
}

// NewReviewer creates a Reviewer. logger may be nil.
func NewReviewer(store *sqlite.Storage, logger *logging.Logger) *Reviewer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Reviewer{store: store, logger: logger.With("component", "review")}
}

// Accept turns a Pending suggestion into a new Project holding exactly the
// suggestion's conversations
func (r *Reviewer) Accept(ctx context.Context, suggestionID string) (*models.Project, error) {
	var project *models.Project
	err := r.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		sg, err := pendingSuggestion(ctx, tx, suggestionID)
		if err != nil {
			return err
		}
		project, err = acceptSuggestion(ctx, tx, sg, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("suggestion accepted", "suggestion_id", suggestionID, "project_id", project.ID)
	return project, nil
}

// Reject closes a Pending suggestion without touching any project
func (r *Reviewer) Reject(ctx context.Context, suggestionID string) error {
	err := r.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		if _, err := pendingSuggestion(ctx, tx, suggestionID); err != nil {
			return err
		}
		return tx.Suggestions.Resolve(ctx, suggestionID, models.SuggestionRejected, "", time.Now().UTC())
	})
	if err != nil {
		return err
	}
	r.logger.Info("suggestion rejected", "suggestion_id", suggestionID)
	return nil
}

// Merge assigns a Pending suggestion's conversations into an existing project.
// A conversation already current in the project gets a fresh current row.
func (r *Reviewer) Merge(ctx context.Context, suggestionID, projectID string) (*models.Project, error) {
	var project *models.Project
	err := r.store.WithTx(ctx, func(tx *sqlite.Storage) error {
		sg, err := pendingSuggestion(ctx, tx, suggestionID)
		if err != nil {
			return err
		}
		project, err = tx.Projects.Get(ctx, projectID)
		if err != nil {
			return fmt.Errorf("failed to get project: %w", err)
		}
		if project == nil {
			return fmt.Errorf("%w: project %s", models.ErrNotFound, projectID)
		}
		at := time.Now().UTC()
		if err := assignMembers(ctx, tx, project.ID, sg, at); err != nil {
			return err
		}
		return tx.Suggestions.Resolve(ctx, sg.ID, models.SuggestionMerged, project.ID, at)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("suggestion merged", "suggestion_id", suggestionID, "project_id", projectID)
	return project, nil
}

func pendingSuggestion(ctx context.Context, tx *sqlite.Storage, id string) (*models.ProjectSuggestion, error) {
	sg, err := tx.Suggestions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get suggestion: %w", err)
	}
	if sg == nil {
		return nil, fmt.Errorf("%w: suggestion %s", models.ErrNotFound, id)
	}
	if err := sg.CheckActionable(); err != nil {
		return nil, err
	}
	return sg, nil
}

// acceptSuggestion creates the project and resolves sg inside tx
func acceptSuggestion(ctx context.Context, tx *sqlite.Storage, sg *models.ProjectSuggestion, at time.Time) (*models.Project, error) {
	project := &models.Project{
		ID:             uuid.New().String(),
		Name:           sg.Name,
		Key:            sg.Key,
		Description:    sg.Summary,
		CreatedByRunID: sg.RunID,
		CreatedAt:      at,
	}
	if err := tx.Projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	if err := assignMembers(ctx, tx, project.ID, sg, at); err != nil {
		return nil, err
	}
	if err := tx.Suggestions.Resolve(ctx, sg.ID, models.SuggestionAccepted, project.ID, at); err != nil {
		return nil, err
	}
	return project, nil
}

func assignMembers(ctx context.Context, tx *sqlite.Storage, projectID string, sg *models.ProjectSuggestion, at time.Time) error {
	for _, convID := range sg.ConversationIDs {
		err := tx.Projects.Assign(ctx, &models.ProjectAssignment{
			ID:             uuid.New().String(),
			ProjectID:      projectID,
			ConversationID: convID,
			SuggestionID:   sg.ID,
			RunID:          sg.RunID,
			Confidence:     sg.Confidence,
			AssignedAt:     at,
		})
		if err != nil {
			return fmt.Errorf("failed to assign conversation %s: %w", convID, err)
		}
	}
	return nil
}
