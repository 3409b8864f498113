package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prudhvinik1/wearsync/internal/export"
	"github.com/prudhvinik1/wearsync/internal/models"
	"github.com/prudhvinik1/wearsync/internal/services"
	"go.uber.org/zap"
)

// maxBodyBytes caps request bodies. A 30-row batch is about 1.5 KB.
const maxBodyBytes = 1 << 20

type IngestionService interface {
	RegisterAnnotation(ctx context.Context, req models.AnnotationRequest) (*models.PendingAnnotation, error)
	Ingest(ctx context.Context, raw string) (*services.IngestResult, error)
	GetBattery(ctx context.Context, deviceName string) (models.BatteryStatus, error)
	GetPending(ctx context.Context, deviceName string) (models.PendingAnnotation, error)
	GetDevicePresence(ctx context.Context, deviceName string) (models.Presence, error)
	GetPresence(ctx context.Context, deviceNames ...string) (map[string]models.Presence, error)
	DeviceLog(ctx context.Context, deviceName string, limit int) (*services.DeviceLog, error)
}

type Handler struct {
	svc         IngestionService
	logger      *zap.Logger
	exportLimit int
}

func NewHandler(svc IngestionService, logger *zap.Logger, exportLimit int) *Handler {
	return &Handler{svc: svc, logger: logger, exportLimit: exportLimit}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(h.logger))
	router.Use(middleware.Recoverer)

	// Health check endpoints
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "OK")
	})

	// Firmware and the companion web app share one URL.
	router.Get("/", h.legacyGet)
	router.Post("/", h.legacyPost)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/annotations", h.registerAnnotation)
		r.Post("/telemetry", h.ingestTelemetry)
		r.Get("/presence", h.listPresence)
		r.Route("/devices/{device}", func(r chi.Router) {
			r.Get("/battery", h.getBattery)
			r.Get("/pending", h.getPending)
			r.Get("/presence", h.getPresence)
			r.Get("/export.xlsx", h.exportDeviceLog)
		})
	})

	return router
}

func (h *Handler) legacyGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("action") != "getBattery" {
		writeText(w, http.StatusOK, "wearsync server running")
		return
	}

	status, err := h.svc.GetBattery(r.Context(), q.Get("device"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSONP(w, q.Get("callback"), status)
}

// legacyPost treats a JSON body carrying user and device as an annotation and
// anything else as a CSV telemetry batch.
func (h *Handler) legacyPost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeText(w, http.StatusOK, "Manual Run: OK")
		return
	}

	if isAnnotation(body) {
		var req models.AnnotationRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid annotation: " + err.Error()})
			return
		}
		pending, err := h.svc.RegisterAnnotation(r.Context(), req)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeText(w, http.StatusOK, "Event Registered for "+pending.DeviceID)
		return
	}

	result, err := h.svc.Ingest(r.Context(), string(body))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if result.Empty {
		writeText(w, http.StatusOK, "Empty Data")
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Saved. Match: %t", result.Matched))
}

// isAnnotation reports whether body is a JSON object with non-empty user and
// device members, whatever the types of its other members.
func isAnnotation(body []byte) bool {
	var fields map[string]any
	if json.Unmarshal(body, &fields) != nil {
		return false
	}
	return present(fields["user"]) && present(fields["device"])
}

func present(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return true
	}
}

func (h *Handler) registerAnnotation(w http.ResponseWriter, r *http.Request) {
	var req models.AnnotationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	pending, err := h.svc.RegisterAnnotation(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pending)
}

func (h *Handler) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return
	}

	result, err := h.svc.Ingest(r.Context(), string(body))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) getBattery(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetBattery(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSONP(w, r.URL.Query().Get("callback"), status)
}

func (h *Handler) getPending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.svc.GetPending(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) getPresence(w http.ResponseWriter, r *http.Request) {
	presence, err := h.svc.GetDevicePresence(r.Context(), chi.URLParam(r, "device"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

// listPresence answers GET /api/v1/presence?device=a&device=b.
func (h *Handler) listPresence(w http.ResponseWriter, r *http.Request) {
	devices := r.URL.Query()["device"]
	if len(devices) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "at least one device is required"})
		return
	}

	presence, err := h.svc.GetPresence(r.Context(), devices...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, presence)
}

func (h *Handler) exportDeviceLog(w http.ResponseWriter, r *http.Request) {
	device := chi.URLParam(r, "device")

	log, err := h.svc.DeviceLog(r.Context(), device, h.exportLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDeviceLog(&buf, log.Rows, log.Pending); err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="Log_%s.xlsx"`, log.Device.Name))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	msg := err.Error()
	if errors.Is(err, services.ErrStoreUnavailable) {
		msg = services.ErrStoreUnavailable.Error()
	} else if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}
