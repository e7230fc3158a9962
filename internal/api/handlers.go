// ABOUTME: HTTP handlers for the calendar query API.
// ABOUTME: Exposes occurrences, search, event bodies and diagnostics over chi.

package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pimutils/khal/internal/config"
	"github.com/pimutils/khal/internal/diag"
	apierrors "github.com/pimutils/khal/internal/errors"
	"github.com/pimutils/khal/internal/khalendar"
	"github.com/pimutils/khal/internal/query"
	"github.com/pimutils/khal/internal/store"
	"github.com/pimutils/khal/internal/vdir"
)

const maxEventBody = 1 << 20

type Handlers struct {
	store      *store.Store
	engine     *query.Engine
	collection *khalendar.Collection
	cfg        *config.Config
	diags      *diag.Collector
}

func NewHandlers(s *store.Store, e *query.Engine, c *khalendar.Collection, cfg *config.Config, d *diag.Collector) *Handlers {
	return &Handlers{store: s, engine: e, collection: c, cfg: cfg, diags: d}
}

// NewRouter builds the full API router with logging middleware.
func NewRouter(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/calendars", h.listCalendars)
		r.Get("/occurrences", h.listOccurrences)
		r.Get("/search", h.search)
		r.Get("/diagnostics", h.listDiagnostics)
		r.Route("/events/{calendar}/{uid}", func(r chi.Router) {
			r.Get("/", h.getEvent)
			r.Put("/", h.putEvent)
			r.Delete("/", h.deleteEvent)
		})
	})
	return r
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (h *Handlers) listCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := h.store.ListCalendars()
	if err != nil {
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Failed to list calendars")
		return
	}
	items := make([]map[string]any, len(cals))
	for i, c := range cals {
		items[i] = map[string]any{
			"name":     c.Name,
			"color":    c.Color,
			"readonly": c.Readonly,
		}
	}
	writeJSON(w, map[string]any{"calendars": items})
}

func (h *Handlers) listOccurrences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{Include: q["cal"], Exclude: q["exclude"]}
	if len(f.Include) > 0 && len(f.Exclude) > 0 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "cal and exclude are mutually exclusive")
		return
	}

	var (
		occs []query.Occurrence
		err  error
	)
	if at := q.Get("at"); at != "" {
		t, perr := h.parseTime(at)
		if perr != nil {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Invalid at parameter")
			return
		}
		occs, err = h.engine.Point(t, f)
	} else {
		from, perr := h.parseTime(q.Get("from"))
		if perr != nil {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Invalid from parameter")
			return
		}
		to, perr := h.parseTime(q.Get("to"))
		if perr != nil {
			apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Invalid to parameter")
			return
		}
		occs, err = h.engine.Range(from, to, f)
	}
	if err != nil {
		log.Printf("occurrence query failed: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Query failed")
		return
	}

	items := make([]map[string]any, len(occs))
	for i, o := range occs {
		items[i] = map[string]any{
			"uid":           o.UID,
			"calendar":      o.Calendar,
			"recurrence_id": o.RecurrenceID,
			"start":         o.Start.Format(time.RFC3339),
			"end":           o.End.Format(time.RFC3339),
			"summary":       o.Summary,
			"description":   o.Description,
			"location":      o.Location,
			"floating":      o.Floating,
			"all_day":       o.AllDay,
			"is_override":   o.IsOverride,
		}
	}
	writeJSON(w, map[string]any{"occurrences": items})
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Missing q parameter")
		return
	}
	f := store.Filter{Include: q["cal"], Exclude: q["exclude"]}
	if len(f.Include) > 0 && len(f.Exclude) > 0 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "cal and exclude are mutually exclusive")
		return
	}

	hits, err := h.engine.Search(text, f)
	if err != nil {
		log.Printf("search failed: %v", err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Search failed")
		return
	}

	items := make([]map[string]any, len(hits))
	for i, hit := range hits {
		items[i] = map[string]any{
			"uid":           hit.UID,
			"calendar":      hit.Calendar,
			"recurrence_id": hit.RecurrenceID,
			"is_proto":      hit.IsProto,
			"summary":       hit.Summary,
			"description":   hit.Description,
			"location":      hit.Location,
		}
	}
	writeJSON(w, map[string]any{"hits": items})
}

func (h *Handlers) listDiagnostics(w http.ResponseWriter, r *http.Request) {
	ds := h.diags.All()
	items := make([]map[string]string, len(ds))
	for i, d := range ds {
		items[i] = map[string]string{
			"severity": string(d.Severity),
			"uid":      d.UID,
			"message":  d.Message,
		}
	}
	writeJSON(w, map[string]any{"diagnostics": items})
}

func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	calendar := chi.URLParam(r, "calendar")
	uid := chi.URLParam(r, "uid")

	raw, err := h.collection.Serialize(calendar, uid)
	if err != nil {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "Event not found")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(raw))
}

func (h *Handlers) putEvent(w http.ResponseWriter, r *http.Request) {
	calendar := chi.URLParam(r, "calendar")
	uid := chi.URLParam(r, "uid")

	cal, ok := h.cfg.Calendar(calendar)
	if !ok {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "Unknown calendar")
		return
	}
	if cal.Readonly {
		apierrors.WriteError(w, http.StatusForbidden, apierrors.ErrForbidden, "Calendar is read-only")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil || len(body) == 0 {
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Missing event body")
		return
	}

	filename := uid + ".ics"
	if err := h.collection.Update(calendar, filename, vdir.Etag(body), string(body)); err != nil {
		log.Printf("update %s/%s failed: %v", calendar, uid, err)
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrInvalidRequest, "Failed to parse event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	calendar := chi.URLParam(r, "calendar")
	uid := chi.URLParam(r, "uid")

	cal, ok := h.cfg.Calendar(calendar)
	if !ok {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "Unknown calendar")
		return
	}
	if cal.Readonly {
		apierrors.WriteError(w, http.StatusForbidden, apierrors.ErrForbidden, "Calendar is read-only")
		return
	}

	if _, ok, err := h.store.GetRaw(calendar, uid); err != nil || !ok {
		apierrors.WriteError(w, http.StatusNotFound, apierrors.ErrNotFound, "Event not found")
		return
	}
	if err := h.collection.Delete(calendar, uid); err != nil {
		log.Printf("delete %s/%s failed: %v", calendar, uid, err)
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrDatabaseError, "Failed to delete event")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseTime accepts RFC 3339 or a bare date, which is anchored at midnight
// in the default zone.
func (h *Handlers) parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", s, h.engine.DefaultZone)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
