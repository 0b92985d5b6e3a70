package api

import (
	"net/http"
	"time"

	"github.com/agora-net/agora/pkg/accounts"
	"github.com/agora-net/agora/pkg/authz"
	"github.com/agora-net/agora/pkg/communities"
	"github.com/agora-net/agora/pkg/content"
	"github.com/agora-net/agora/pkg/httputil"
	"github.com/agora-net/agora/pkg/identity"
)

const healthCheckTimeout = 5 * time.Second

// templateView is the wire form of a registered template.
type templateView struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	Description   string `json:"description,omitempty"`
	CommunityOnly bool   `json:"community_only,omitempty"`
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]templateView)
	for _, kind := range authz.Kinds() {
		views := make([]templateView, 0)
		for _, t := range s.registry.Templates(kind) {
			views = append(views, templateView{
				ID:            t.ID,
				Label:         t.Label,
				Description:   t.Description,
				CommunityOnly: t.CommunityOnly,
			})
		}
		if len(views) > 0 {
			out[string(kind)] = views
		}
	}
	httputil.WriteSuccess(w, out)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req accounts.RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	acc, err := s.accounts.Register(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, acc)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	acc, err := s.accounts.Get(r.Context(), caller, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, acc)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	limit, offset := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	caller := identity.Resolve(r.Context(), nil)
	entities, err := s.accounts.List(r.Context(), caller, limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, entities)
}

type updateRequest struct {
	TemplateID string `json:"template_id"`
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req updateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	e, err := s.accounts.Update(r.Context(), caller, id, req.TemplateID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, e)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.accounts.Delete(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.accounts.Follow(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.accounts.Unfollow(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleCreateCommunity(w http.ResponseWriter, r *http.Request) {
	var req communities.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	com, err := s.communities.Create(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, com)
}

func (s *Server) handleGetCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	com, err := s.communities.Get(r.Context(), caller, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, com)
}

func (s *Server) handleUpdateCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req updateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	e, err := s.communities.Update(r.Context(), caller, id, req.TemplateID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, e)
}

func (s *Server) handleDeleteCommunity(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.communities.Delete(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.communities.Join(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.communities.Leave(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	members, err := s.communities.Members(r.Context(), caller, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

type setManagerRequest struct {
	Manager bool `json:"manager"`
}

func (s *Server) handleSetManager(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	account, ok := httputil.ParsePathUUIDOrError(w, r, "account")
	if !ok {
		return
	}
	var req setManagerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.communities.SetManager(r.Context(), caller, id, account, req.Manager); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req content.PublishRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	item, err := s.content.Publish(r.Context(), caller, req)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, item)
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	item, err := s.content.Get(r.Context(), caller, id)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request) {
	publisher, err := httputil.ParseQueryUUID(r, "publisher")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	limit, offset := httputil.ParsePagination(r, defaultPageSize, maxPageSize)
	caller := identity.Resolve(r.Context(), nil)
	entities, err := s.content.List(r.Context(), caller, publisher, limit, offset)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, entities)
}

type editContentRequest struct {
	TemplateID string `json:"template_id,omitempty"`
	Title      string `json:"title,omitempty"`
	Text       string `json:"text,omitempty"`
}

func (s *Server) handleEditContent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var req editContentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	item, err := s.content.Edit(r.Context(), caller, id, req.TemplateID, req.Title, req.Text)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, item)
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	caller := identity.Resolve(r.Context(), nil)
	if err := s.content.Delete(r.Context(), caller, id); err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
