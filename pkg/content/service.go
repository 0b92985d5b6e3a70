// Package content manages posts, resources and channels: secured entities
// published under an account or community wall, whose visibility is
// inherited from the publisher chain through the access network.
package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/identity"
	"github.com/agora-net/agora/pkg/storage"
	"github.com/google/uuid"
)

// PublishRequest is the input to content publication.
type PublishRequest struct {
	Kind        authz.EntityKind `json:"kind"`
	PublisherID uuid.UUID        `json:"publisher_id"`
	TemplateID  string           `json:"template_id,omitempty"`
	Title       string           `json:"title,omitempty"`
	Text        string           `json:"text,omitempty"`
	MimeType    string           `json:"mime_type,omitempty"`
}

// Item is a content entity with its body.
type Item struct {
	Entity *authz.Entity `json:"entity"`
	Body   *storage.Body `json:"body"`
}

// Service implements content operations over the secured lifecycle.
type Service struct {
	store     storage.Store
	lifecycle *authz.Lifecycle
	sat       *authz.Satisfier
}

// NewService wires the content service.
func NewService(store storage.Store, lc *authz.Lifecycle, sat *authz.Satisfier) *Service {
	return &Service{store: store, lifecycle: lc, sat: sat}
}

func contentKind(k authz.EntityKind) bool {
	switch k {
	case authz.KindPost, authz.KindResource, authz.KindChannel:
		return true
	}
	return false
}

// Publish creates a content item under a publisher wall. The lifecycle
// checks the publish threshold on the publisher and runs propagation.
func (s *Service) Publish(ctx context.Context, caller identity.Identity, req PublishRequest) (*Item, error) {
	if !contentKind(req.Kind) {
		return nil, &authz.ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not a content kind", req.Kind)}
	}
	if req.PublisherID == uuid.Nil {
		return nil, &authz.ValidationError{Field: "publisher_id", Reason: "required"}
	}
	if req.Kind == authz.KindPost && strings.TrimSpace(req.Text) == "" {
		return nil, &authz.ValidationError{Field: "text", Reason: "must not be empty"}
	}

	pid := req.PublisherID
	e := &authz.Entity{
		Kind:        req.Kind,
		PublisherID: &pid,
		TemplateID:  req.TemplateID,
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}

	b := &storage.Body{
		EntityID: e.ID,
		Title:    req.Title,
		Text:     req.Text,
		MimeType: req.MimeType,
	}
	if err := s.store.SaveBody(ctx, b); err != nil {
		return nil, fmt.Errorf("saving content body for %s: %w", e.ID, err)
	}
	return &Item{Entity: e, Body: b}, nil
}

// Get returns a content item the caller may view.
func (s *Service) Get(ctx context.Context, caller identity.Identity, id uuid.UUID) (*Item, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contentKind(e.Kind) {
		return nil, authz.ErrNotFound
	}
	if err := s.sat.Require(ctx, caller, authz.PermView, e); err != nil {
		return nil, err
	}
	b, err := s.store.GetBody(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Item{Entity: e, Body: b}, nil
}

// Edit updates a content item's body and/or template through the secured
// lifecycle.
func (s *Service) Edit(ctx context.Context, caller identity.Identity, id uuid.UUID, templateID, title, text string) (*Item, error) {
	e, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contentKind(e.Kind) {
		return nil, authz.ErrNotFound
	}
	if templateID != "" {
		e.TemplateID = templateID
	}
	if err := s.lifecycle.Save(ctx, caller, e); err != nil {
		return nil, err
	}

	b, err := s.store.GetBody(ctx, id)
	if err != nil {
		return nil, err
	}
	if title != "" {
		b.Title = title
	}
	if text != "" {
		b.Text = text
	}
	if err := s.store.SaveBody(ctx, b); err != nil {
		return nil, fmt.Errorf("saving content body for %s: %w", id, err)
	}
	return &Item{Entity: e, Body: b}, nil
}

// List returns the content the caller may list, optionally restricted to
// one publisher's wall. This is the secured listing path: a single filter,
// no per-row role evaluation.
func (s *Service) List(ctx context.Context, caller identity.Identity, publisher *uuid.UUID, limit, offset int) ([]*authz.Entity, error) {
	f, err := s.sat.ListFilter(ctx, caller)
	if err != nil {
		return nil, err
	}
	return s.store.ListEntities(ctx, storage.ListQuery{
		Filter:    f,
		Kinds:     []authz.EntityKind{authz.KindPost, authz.KindResource, authz.KindChannel},
		Publisher: publisher,
		Limit:     limit,
		Offset:    offset,
	})
}

// Delete removes a content item through the secured lifecycle.
func (s *Service) Delete(ctx context.Context, caller identity.Identity, id uuid.UUID) error {
	return s.lifecycle.Delete(ctx, caller, id)
}
