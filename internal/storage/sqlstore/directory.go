package sqlstore

import (
	"context"
	"fmt"

	"agent-triggers/internal/models"
	"agent-triggers/internal/storage"
)

// GetWorkspace loads one workspace
func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var (
		w       models.Workspace
		domains string
	)
	err := s.queryRow(ctx, getWorkspaceQuery, id).Scan(&w.ID, &w.Name, &domains, &w.Timezone)
	if err != nil {
		return nil, notFound(err)
	}
	w.Domains = parseStringSlice(domains)
	return &w, nil
}

// UpsertWorkspace creates or replaces a workspace
func (s *Store) UpsertWorkspace(ctx context.Context, w *models.Workspace) error {
	domains, err := stringSliceJSON(w.Domains)
	if err != nil {
		return fmt.Errorf("encode domains: %w", err)
	}
	_, err = s.exec(ctx, upsertWorkspaceQuery, w.ID, w.Name, domains, w.Timezone)
	return err
}

// GetAgent loads one agent
func (s *Store) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.queryRow(ctx, getAgentQuery, id).Scan(&a.ID, &a.WorkspaceID, &a.Name, &a.IsEnabled)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// UpsertAgent creates or replaces an agent
func (s *Store) UpsertAgent(ctx context.Context, a *models.Agent) error {
	_, err := s.exec(ctx, upsertAgentQuery, a.ID, a.WorkspaceID, a.Name, a.IsEnabled)
	return err
}

// GetIntegration loads one integration
func (s *Store) GetIntegration(ctx context.Context, id string) (*models.Integration, error) {
	i, err := scanIntegration(s.queryRow(ctx, getIntegrationQuery, id))
	if err != nil {
		return nil, notFound(err)
	}
	return i, nil
}

// GetIntegrationByAccount resolves a provider account, case-insensitively
func (s *Store) GetIntegrationByAccount(ctx context.Context, provider, account string) (*models.Integration, error) {
	i, err := scanIntegration(s.queryRow(ctx, getIntegrationByAccount, provider, account))
	if err != nil {
		return nil, notFound(err)
	}
	return i, nil
}

// UpsertIntegration creates or replaces an integration
func (s *Store) UpsertIntegration(ctx context.Context, i *models.Integration) error {
	now := utc(s.now())
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now

	_, err := s.exec(ctx, upsertIntegrationQuery,
		i.ID, i.Provider, i.ExternalAccount, i.AgentID, i.WorkspaceID, i.IsActive, utc(i.CreatedAt), i.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return storage.ErrDuplicate
	}
	return err
}

func scanIntegration(row scanner) (*models.Integration, error) {
	var i models.Integration
	err := row.Scan(&i.ID, &i.Provider, &i.ExternalAccount, &i.AgentID, &i.WorkspaceID, &i.IsActive, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return &i, nil
}
