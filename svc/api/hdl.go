package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"markpaste/cfg"
	"markpaste/pkg/domain"
	"markpaste/svc/svc"
	"markpaste/svc/util"
)

// JSON escaping of a Markdown body can at most sextuple a byte ("<").
const bodyOverhead = 6

type Hdl struct {
	paste     *svc.Paste
	analytics *svc.Analytics
	cfg       *cfg.Cfg
}
type CreateReq struct {
	Content *string `json:"content"`
}
type CreateResp struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
type TrackReq struct {
	EventType string `json:"eventType"`
}
type TrackResp struct {
	Success bool `json:"success"`
}
type KeyResp struct {
	Key string `json:"key"`
}

func (h *Hdl) CreatePaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	if contentType := r.Header.Get("Content-Type"); contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			log.Warn().
				Str("content_type", contentType).
				Str("request_id", requestID).
				Msg("invalid Content-Type header")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			json.NewEncoder(w).Encode(domain.ErrResp{
				Error:     "expected Content-Type: application/json",
				RequestID: requestID,
			})
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxPasteSize*bodyOverhead+1024)
	var req CreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &typeErr):
			log.Warn().Str("field", typeErr.Field).Msg("content is not a string")
			writeErr(w, domain.ErrContentRequired, requestID)
		case errors.As(err, &maxErr):
			log.Warn().Int64("limit", maxErr.Limit).Msg("request body too large")
			writeErr(w, domain.ErrPasteTooLarge, requestID)
		case err == io.EOF:
			log.Warn().Msg("empty request body")
			writeErr(w, domain.ErrContentRequired, requestID)
		default:
			log.Warn().Err(err).Msg("invalid request")
			writeErr(w, domain.ErrInvalidRequest, requestID)
		}
		return
	}
	if req.Content == nil {
		writeErr(w, domain.ErrContentRequired, requestID)
		return
	}
	content := *req.Content
	paste, err := h.paste.Create(r.Context(), content)
	if err != nil {
		log.Warn().Err(err).Msg("failed to create paste")
		writeErr(w, err, requestID)
		return
	}
	h.analytics.Record(r.Context(), domain.EventCreated, domain.EventPayload{
		Address:       clientIP(r),
		PasteID:       paste.ID,
		ContentLength: utf8.RuneCountInString(content),
	})
	log.Info().
		Str("paste_id", paste.ID).
		Int("content_length", len(content)).
		Msg("paste created")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateResp{
		ID:        paste.ID,
		URL:       h.cfg.BaseURL + "/" + paste.ID,
		CreatedAt: paste.CreatedAt,
		ExpiresAt: paste.ExpiresAt,
	})
}
func (h *Hdl) GetPaste(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	paste, err := h.paste.Get(r.Context(), id)
	if err != nil {
		if errors.Cause(err) != domain.ErrPasteNotFound {
			log.Error().Err(err).Str("paste_id", id).Msg("get failed")
		}
		writeErr(w, err, requestID)
		return
	}
	h.analytics.Record(r.Context(), domain.EventViewed, domain.EventPayload{
		Address: clientIP(r),
		PasteID: paste.ID,
	})
	log.Info().
		Str("paste_id", id).
		Str("client_ip", util.RedactIP(clientIP(r))).
		Msg("paste retrieved")
	json.NewEncoder(w).Encode(paste)
}

// TrackEvent records a copy or share. The paste itself is not looked up.
func (h *Hdl) TrackEvent(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	requestID := util.GetRequestID(r.Context())
	id := chi.URLParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req TrackReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Str("paste_id", id).Msg("invalid track request")
		writeErr(w, domain.ErrInvalidEventType, requestID)
		return
	}
	kind, ok := domain.ParseTrackEvent(req.EventType)
	if !ok {
		log.Warn().Str("event_type", req.EventType).Msg("unknown event type")
		writeErr(w, domain.ErrInvalidEventType, requestID)
		return
	}
	if trackThrottled(r) {
		log.Debug().Str("paste_id", id).Msg("tracking throttled, event dropped")
	} else {
		h.analytics.Record(r.Context(), kind, domain.EventPayload{
			Address: clientIP(r),
			PasteID: id,
		})
	}
	json.NewEncoder(w).Encode(TrackResp{Success: true})
}
func (h *Hdl) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	requestID := util.GetRequestID(r.Context())
	counters, err := h.analytics.Snapshot(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("analytics snapshot failed")
		writeErr(w, err, requestID)
		return
	}
	json.NewEncoder(w).Encode(counters)
}

// AnalyticsKey exposes the configured key. Only routed outside production.
func (h *Hdl) AnalyticsKey(w http.ResponseWriter, r *http.Request) {
	key := h.cfg.AnalyticsAPIKey.Value()
	if key == "" {
		writeErr(w, domain.ErrKeyNotConfigured, util.GetRequestID(r.Context()))
		return
	}
	json.NewEncoder(w).Encode(KeyResp{Key: key})
}
func writeErr(w http.ResponseWriter, err error, requestID string) {
	statusCode := domain.Status(err)
	resp := domain.ToResp(err)
	resp.RequestID = requestID
	if statusCode >= 500 {
		util.Error().
			Err(err).
			Str("request_id", requestID).
			Msg("internal error with detailed info")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}
