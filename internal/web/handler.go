// Package web serves the registered resources as a JSON:API over HTTP. Each
// request runs in its own storage transaction.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/resourcemap/internal/orm/query"
	"github.com/conduit-lang/resourcemap/internal/queryspec"
	"github.com/conduit-lang/resourcemap/internal/repository"
	"github.com/conduit-lang/resourcemap/internal/resource"
	"github.com/conduit-lang/resourcemap/internal/web/jsonapi"
	"github.com/conduit-lang/resourcemap/internal/web/middleware"
)

// Transactor runs a function inside a storage transaction.
// *session.Manager implements it.
type Transactor interface {
	Transactional(ctx context.Context, fn func(ctx context.Context) error) error
}

// Config holds the collaborators of a Handler
type Config struct {
	Transactor Transactor
	Repository *repository.DtoRepository
	Logger     *zap.SugaredLogger
}

// Handler serves list, show, related, create, update and delete endpoints
// for every resource type of the repository
type Handler struct {
	tx        Transactor
	repo      *repository.DtoRepository
	resources *resource.Registry
	codec     *jsonapi.Codec
	logger    *zap.SugaredLogger
}

// New creates a Handler. The transactor and repository are required.
func New(cfg Config) (*Handler, error) {
	if cfg.Transactor == nil {
		return nil, errors.New("transactor is required")
	}
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Handler{
		tx:        cfg.Transactor,
		repo:      cfg.Repository,
		resources: cfg.Repository.Resources(),
		codec:     jsonapi.NewCodec(cfg.Repository.Resources()),
		logger:    cfg.Logger,
	}, nil
}

// Routes returns the router of the API:
//
//	GET    /{type}
//	POST   /{type}
//	GET    /{type}/{id}
//	PATCH  /{type}/{id}
//	DELETE /{type}/{id}
//	GET    /{type}/{id}/{relation}
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Logging(h.logger), middleware.Recovery(h.logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.RenderErrors(w, http.StatusNotFound, jsonapi.NewError(http.StatusNotFound, "no route for "+r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonapi.RenderErrors(w, http.StatusMethodNotAllowed, jsonapi.NewError(http.StatusMethodNotAllowed, r.Method+" is not supported here"))
	})

	r.Route("/{type}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.remove)
		r.Get("/{id}/{relation}", h.related)
	})
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	spec, err := queryspec.Parse(r.URL.Query(), rt)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}

	var list *repository.ResourceList
	err = h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		var err error
		list, err = h.repo.FindAll(ctx, repository.FindAllParams{
			Source:       rt,
			QuerySpec:    spec,
			MetaProvider: repository.TotalCountMetaProvider{},
		})
		return err
	})
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	h.renderList(w, r, rt, spec, list)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	spec, err := queryspec.Parse(r.URL.Query(), rt)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}

	id := chi.URLParam(r, "id")
	var dto any
	err = h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		var err error
		dto, err = h.find(ctx, rt, id, spec)
		return err
	})
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	h.renderOne(w, r, rt, http.StatusOK, dto, spec)
}

func (h *Handler) related(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	rel, ok := rt.Relation(chi.URLParam(r, "relation"))
	if !ok {
		h.fail(w, r, rt, errors.Wrapf(repository.ErrNotFound, "%s has no relationship %q", rt.Name, chi.URLParam(r, "relation")))
		return
	}
	spec, err := queryspec.Parse(r.URL.Query(), rel.Target)
	if err != nil {
		h.fail(w, r, rel.Target, err)
		return
	}

	id := chi.URLParam(r, "id")
	var list *repository.ResourceList
	err = h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		source, err := h.find(ctx, rt, id, nil)
		if err != nil {
			return err
		}
		sourceID, err := rt.IDOf(source)
		if err != nil {
			return err
		}
		params := repository.FindAllParams{
			Source:    rt,
			QuerySpec: spec,
			CustomRoot: func(root *query.From) *query.From {
				return root.Join(rel.Field, query.JoinInner)
			},
			CustomFilter: func(_ *query.From, c *query.Criteria) query.Predicate {
				return query.Equal(c.Root().ID(), sourceID)
			},
		}
		if rel.IsToMany() {
			params.MetaProvider = repository.TotalCountMetaProvider{}
		}
		list, err = h.repo.FindAll(ctx, params)
		return err
	})
	if err != nil {
		h.fail(w, r, rel.Target, err)
		return
	}

	if rel.IsToMany() {
		h.renderList(w, r, rel.Target, spec, list)
		return
	}
	var dto any
	if len(list.Items) > 0 {
		dto = list.Items[0]
	}
	h.renderOne(w, r, rel.Target, http.StatusOK, dto, spec)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	dto, err := h.codec.Decode(r.Body, rt, "")
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}

	var created any
	err = h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		id, err := h.repo.Create(ctx, dto)
		if err != nil {
			return err
		}
		created, err = h.find(ctx, rt, id, nil)
		return err
	})
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}

	id, err := rt.IDOf(created)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+fmt.Sprint(id))
	h.renderOne(w, r, rt, http.StatusCreated, created, nil)
}

// update overlays the members of the request document onto the current
// resource, so attributes and relationships it leaves out keep their values
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	payload, err := jsonapi.ReadPayload(r.Body, rt, id)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}

	var updated any
	err = h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		current, err := h.find(ctx, rt, id, nil)
		if err != nil {
			return err
		}
		if err := h.codec.Apply(rt, current, payload); err != nil {
			return err
		}
		if _, err := h.repo.Save(ctx, current); err != nil {
			return err
		}
		updated, err = h.find(ctx, rt, id, nil)
		return err
	})
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	h.renderOne(w, r, rt, http.StatusOK, updated, nil)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	rt, ok := h.resourceType(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	dto := rt.New()
	if err := rt.SetID(dto, id); err != nil {
		h.fail(w, r, rt, errors.Mark(err, repository.ErrNotFound))
		return
	}

	err := h.tx.Transactional(r.Context(), func(ctx context.Context) error {
		return h.repo.Delete(ctx, dto)
	})
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// find loads one resource and turns absence into ErrNotFound
func (h *Handler) find(ctx context.Context, rt *resource.Type, id any, spec *queryspec.QuerySpec) (any, error) {
	dto, err := h.repo.FindOne(ctx, rt, id, spec)
	if err != nil {
		return nil, err
	}
	if dto == nil {
		return nil, errors.Wrapf(repository.ErrNotFound, "%s %v", rt.Name, id)
	}
	return dto, nil
}

func (h *Handler) resourceType(w http.ResponseWriter, r *http.Request) (*resource.Type, bool) {
	name := chi.URLParam(r, "type")
	rt, ok := h.resources.ByName(name)
	if !ok {
		h.fail(w, r, nil, errors.Wrapf(repository.ErrNotFound, "unknown resource type %q", name))
		return nil, false
	}
	return rt, true
}

func (h *Handler) renderList(w http.ResponseWriter, r *http.Request, rt *resource.Type, spec *queryspec.QuerySpec, list *repository.ResourceList) {
	data, err := h.codec.EncodeAll(list.Items)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	included, err := h.codec.Included(list.Items, spec.Includes)
	if err != nil {
		h.fail(w, r, rt, err)
		return
	}
	fieldsets := jsonapi.ParseFieldsets(r.URL.Query())
	jsonapi.ApplySparseFieldsets(data, fieldsets)
	jsonapi.ApplySparseFieldsets(included, fieldsets)

	limit := h.repo.DefaultLimit()
	if spec.Limit != nil {
		limit = *spec.Limit
	}
	total, _ := list.Meta[repository.TotalResourceCount].(int64)

	h.render(w, r, http.StatusOK, &jsonapi.Document{
		Data:     data,
		Included: included,
		Meta:     list.Meta,
		Links:    jsonapi.PaginationLinks(r.URL, spec.Offset, limit, total),
	})
}

func (h *Handler) renderOne(w http.ResponseWriter, r *http.Request, rt *resource.Type, status int, dto any, spec *queryspec.QuerySpec) {
	doc := &jsonapi.Document{Links: map[string]string{"self": r.URL.Path}}
	if dto != nil {
		res, err := h.codec.Encode(dto)
		if err != nil {
			h.fail(w, r, rt, err)
			return
		}
		doc.Data = res
		if spec != nil {
			doc.Included, err = h.codec.Included([]any{dto}, spec.Includes)
			if err != nil {
				h.fail(w, r, rt, err)
				return
			}
		}
		fieldsets := jsonapi.ParseFieldsets(r.URL.Query())
		jsonapi.ApplySparseFieldsets([]*jsonapi.Resource{res}, fieldsets)
		jsonapi.ApplySparseFieldsets(doc.Included, fieldsets)
	}
	h.render(w, r, status, doc)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, doc *jsonapi.Document) {
	if err := jsonapi.Render(w, status, doc); err != nil {
		h.fail(w, r, nil, err)
	}
}
