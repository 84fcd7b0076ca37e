// Package httpapi is the REST adapter over the changeset service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/changesetd/internal/logging"
	"github.com/dmitrijs2005/changesetd/internal/server/api"
	"github.com/dmitrijs2005/changesetd/internal/server/authz"
	"github.com/dmitrijs2005/changesetd/internal/server/models"
	"github.com/dmitrijs2005/changesetd/internal/server/services"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// ChangesetService is the part of services.ChangesetService the adapter calls.
type ChangesetService interface {
	Get(ctx context.Context, actor authz.Actor, uuid, view string) (*models.Changeset, error)
	List(ctx context.Context, actor authz.Actor, view string, statuses ...string) ([]*models.Changeset, error)
	Update(ctx context.Context, actor authz.Actor, uuid string, req services.UpdateRequest) (*services.UpdateResult, error)
	Delete(ctx context.Context, actor authz.Actor, uuid string, force bool) (*services.DeleteResult, error)
	SettingValue(ctx context.Context, actor authz.Actor, id string) (json.RawMessage, error)
}

type Config struct {
	SecretKey   []byte
	CORSOrigins []string
	Logger      logging.Logger
}

type Handler struct {
	svc    ChangesetService
	logger logging.Logger
}

// NewRouter builds the REST surface: changesets, setting values and metrics.
func NewRouter(svc ChangesetService, cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	h := &Handler{svc: svc, logger: logger.With("component", "http")}

	r := mux.NewRouter()
	r.Use(accessLog(h.logger))
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	sr := r.NewRoute().Subrouter()
	sr.Use(authenticate(cfg.SecretKey))
	sr.HandleFunc("/changesets", h.list).Methods(http.MethodGet)
	sr.HandleFunc("/changesets/{uuid}", h.get).Methods(http.MethodGet)
	sr.HandleFunc("/changesets/{uuid}", h.update).Methods(http.MethodPut, http.MethodPost, http.MethodPatch)
	sr.HandleFunc("/changesets/{uuid}", h.delete).Methods(http.MethodDelete)
	sr.HandleFunc("/settings/{id}", h.setting).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Access-Token"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var statuses []string
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				statuses = append(statuses, s)
			}
		}
	}

	list, err := h.svc.List(r.Context(), actor(r), q.Get("context"), statuses...)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromChangesets(list))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), actor(r), mux.Vars(r)["uuid"], r.URL.Query().Get("context"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromChangeset(c))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var body api.UpdateBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, api.NewErrorBody(api.CodeInvalidJSON, "Request body is not valid JSON."))
		return
	}

	res, err := h.svc.Update(r.Context(), actor(r), mux.Vars(r)["uuid"], body.Request())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromUpdateResult(res))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	res, err := h.svc.Delete(r.Context(), actor(r), mux.Vars(r)["uuid"], force)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromDeleteResult(res))
}

func (h *Handler) setting(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v, err := h.svc.SettingValue(r.Context(), actor(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "value": v})
}

// decodeBody reads an optional JSON object body.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := api.ErrorFrom(err)
	if body.Code == api.CodeInternal {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, body.Data.Status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
