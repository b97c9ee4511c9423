package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"inkwell/api/internal/config"
	"inkwell/api/internal/resolve"
	"inkwell/api/internal/store"
	"inkwell/api/internal/util"
)

type CreateDocumentInput struct {
	ID         string            `json:"id"`
	ProjectID  string            `json:"projectId"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Components map[string]string `json:"components"`
	GroupID    string            `json:"groupId"`
	DocType    string            `json:"docType"`
}

type dataStore interface {
	GetDocument(context.Context, string) (*store.Document, error)
	GetGroupMembers(context.Context, string) ([]store.Document, error)
	ListDocumentsByProject(context.Context, string) ([]store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateBody(context.Context, string, string) error
	UpdateComponents(context.Context, string, map[string]string) error
	CacheResolvedComponent(context.Context, string, string, string) error
	Ping(ctx context.Context) error
}

type invalidator interface {
	Invalidate(ctx context.Context, documentID, groupID string) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	engine *resolve.Engine
	cache  invalidator
}

func New(cfg config.Config, dataStore *store.PostgresStore, engine *resolve.Engine) *Service {
	return &Service{cfg: cfg, store: dataStore, engine: engine}
}

func NewWithCache(cfg config.Config, dataStore *store.PostgresStore, engine *resolve.Engine, cache invalidator) *Service {
	return &Service{cfg: cfg, store: dataStore, engine: engine, cache: cache}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a small demo project on an empty database so the resolve
// endpoints have something to expand.
func (s *Service) Bootstrap(ctx context.Context) error {
	existing, err := s.store.ListDocumentsByProject(ctx, "proj_demo")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	seeds := []store.Document{
		{
			ID:        "doc-style-guide",
			ProjectID: "proj_demo",
			Title:     "House Style",
			Body:      "Write plainly. Prefer short sentences.",
			GroupID:   "doc-style-guide",
			DocType:   "style",
		},
		{
			ID:        "doc-setting",
			ProjectID: "proj_demo",
			Title:     "Setting",
			Body:      "The city of Veldt sits below the flood line.",
			DocType:   "lore",
		},
		{
			ID:        "doc-chapter-one",
			ProjectID: "proj_demo",
			Title:     "Chapter One",
			Body:      "{{style}}\n\n{{setting}}\n\nRain again.",
			Components: map[string]string{
				"style":   "group:doc-style-guide",
				"setting": "doc-setting",
			},
		},
	}

	for _, seed := range seeds {
		if len(seed.Components) > 0 {
			if err := s.engine.Validate(ctx, seed.ID, seed.Components, seed.ProjectID); err != nil {
				return fmt.Errorf("bootstrap validate %s: %w", seed.ID, err)
			}
		}
		if err := s.store.InsertDocument(ctx, seed); err != nil {
			return err
		}
	}
	return nil
}

func documentPayload(doc *store.Document) map[string]any {
	components := doc.Components
	if components == nil {
		components = map[string]string{}
	}
	return map[string]any{
		"id":         doc.ID,
		"projectId":  doc.ProjectID,
		"title":      doc.Title,
		"body":       doc.Body,
		"components": components,
		"groupId":    nilIfEmpty(doc.GroupID),
		"docType":    nilIfEmpty(doc.DocType),
		"createdAt":  doc.CreatedAt,
	}
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, sql.ErrNoRows
	}
	return documentPayload(doc), nil
}

func (s *Service) CreateDocument(ctx context.Context, input CreateDocumentInput) (map[string]any, error) {
	projectID := strings.TrimSpace(input.ProjectID)
	if projectID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "projectId is required", nil)
	}
	documentID := strings.TrimSpace(input.ID)
	if documentID == "" {
		documentID = util.NewID("doc")
	}

	if len(input.Components) > 0 {
		if err := s.validateComponents(ctx, documentID, input.Components, projectID); err != nil {
			return nil, err
		}
	}

	doc := store.Document{
		ID:         documentID,
		ProjectID:  projectID,
		Title:      strings.TrimSpace(input.Title),
		Body:       input.Body,
		Components: input.Components,
		GroupID:    strings.TrimSpace(input.GroupID),
		DocType:    strings.TrimSpace(input.DocType),
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.invalidate(ctx, doc.ID, doc.GroupID)
	return s.GetDocument(ctx, doc.ID)
}

func (s *Service) UpdateDocumentBody(ctx context.Context, documentID, body string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, sql.ErrNoRows
	}
	if err := s.store.UpdateBody(ctx, documentID, body); err != nil {
		return nil, err
	}
	s.invalidate(ctx, doc.ID, doc.GroupID)
	return s.GetDocument(ctx, documentID)
}

// UpdateDocumentComponents is the gated write path: the proposed component
// map must pass the cycle validator before anything is persisted.
func (s *Service) UpdateDocumentComponents(ctx context.Context, documentID string, components map[string]string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, sql.ErrNoRows
	}
	if err := s.validateComponents(ctx, documentID, components, doc.ProjectID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateComponents(ctx, documentID, components); err != nil {
		return nil, err
	}
	s.invalidate(ctx, doc.ID, doc.GroupID)
	return s.GetDocument(ctx, documentID)
}

// ValidateDocumentComponents is the dry-run form used by editors before
// saving: same check, nothing written.
func (s *Service) ValidateDocumentComponents(ctx context.Context, documentID string, components map[string]string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, sql.ErrNoRows
	}
	if err := s.engine.Validate(ctx, documentID, components, doc.ProjectID); err != nil {
		var cycleErr *resolve.CycleError
		if errors.As(err, &cycleErr) {
			return map[string]any{"valid": false, "cycle": cycleDetails(cycleErr)}, nil
		}
		return nil, err
	}
	return map[string]any{"valid": true}, nil
}

func (s *Service) ResolveDocument(ctx context.Context, documentID string, overrides map[string]string) (map[string]any, error) {
	result, err := s.engine.Resolve(ctx, documentID, overrides)
	if err != nil {
		return nil, err
	}

	if s.cfg.CacheResolvedComponents {
		s.persistResolvedGroups(ctx, result.ResolvedGroups)
	}

	return map[string]any{
		"documentId":     documentID,
		"text":           result.Text,
		"resolvedGroups": result.ResolvedGroups,
	}, nil
}

// ProjectContext assembles one flat text block from every document in a
// project, in stable creation order. This is the prompt-context call site:
// the caller attaches the block to an AI request elsewhere.
func (s *Service) ProjectContext(ctx context.Context, projectID string) (map[string]any, error) {
	documents, err := s.store.ListDocumentsByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents))
	sections := make([]string, 0, len(documents))
	for _, doc := range documents {
		result, err := s.engine.Resolve(ctx, doc.ID, nil)
		if err != nil {
			return nil, err
		}
		items = append(items, map[string]any{
			"id":    doc.ID,
			"title": doc.Title,
			"text":  result.Text,
		})
		label := firstNonBlank(doc.Title, doc.ID)
		sections = append(sections, "## "+label+"\n\n"+result.Text)
	}

	return map[string]any{
		"projectId": projectID,
		"documents": items,
		"context":   strings.Join(sections, "\n\n"),
	}, nil
}

func (s *Service) validateComponents(ctx context.Context, documentID string, components map[string]string, projectID string) error {
	err := s.engine.Validate(ctx, documentID, components, projectID)
	if err == nil {
		return nil
	}
	var cycleErr *resolve.CycleError
	if errors.As(err, &cycleErr) {
		return domainError(http.StatusUnprocessableEntity, "CYCLE_DETECTED", "Component references would form a cycle", cycleDetails(cycleErr))
	}
	return err
}

// persistResolvedGroups writes group-resolution results back into the owning
// documents' component maps. Memoization only: failures are logged and never
// affect the resolution result.
func (s *Service) persistResolvedGroups(ctx context.Context, resolvedGroups map[string]string) {
	for namespacedKey, resolvedID := range resolvedGroups {
		ownerID, tokenKey, ok := strings.Cut(namespacedKey, ".")
		if !ok {
			continue
		}
		if err := s.store.CacheResolvedComponent(ctx, ownerID, tokenKey, resolvedID); err != nil {
			log.Printf("cache-back %s.%s failed: %v", ownerID, tokenKey, err)
			continue
		}
		s.invalidate(ctx, ownerID, "")
	}
}

func (s *Service) invalidate(ctx context.Context, documentID, groupID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, documentID, groupID); err != nil {
		log.Printf("cache invalidate %s failed: %v", documentID, err)
	}
}

func cycleDetails(err *resolve.CycleError) map[string]any {
	return map[string]any{
		"document": err.Document,
		"group":    nilIfEmpty(err.Group),
		"path":     err.Path,
	}
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
