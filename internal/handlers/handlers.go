// Package handlers exposes the service operations as JSON-over-HTTP endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/assetmanifest/internal/apperrors"
	"github.com/Lllllllleong/assetmanifest/internal/models"
	"github.com/Lllllllleong/assetmanifest/internal/services"
)

// maxBodyBytes leaves room for a base64 encoded source PDF.
const maxBodyBytes = 96 << 20

// StatusFor maps an operation error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrMismatch), errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperrors.ErrUpstreamFetch):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

// WriteError writes the {ok:false,error} envelope.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), models.Result{OK: false, Error: err.Error()})
}

// Operation adapts a service method taking a JSON request body.
func Operation[Req any, Resp any](name string, op func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			WriteJSON(w, http.StatusMethodNotAllowed, models.Result{Error: "method not allowed"})
			return
		}
		var req Req
		body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			slog.Warn("Could not decode request body", "operation", name, "error", err)
			WriteError(w, apperrors.Invalid("body", "could not parse JSON: "+err.Error()))
			return
		}
		res, err := op(r.Context(), &req)
		if err != nil {
			status := StatusFor(err)
			if status >= http.StatusInternalServerError {
				slog.Error("Operation failed", "operation", name, "error", err)
			} else {
				slog.Warn("Operation rejected", "operation", name, "status", status, "error", err)
			}
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}

// AssetRoutes registers the manifest consistency and asset lifecycle endpoints.
func AssetRoutes(mux *http.ServeMux, svc *services.Service) {
	mux.Handle("/record-asset", Operation("recordAsset", svc.RecordAsset))
	mux.Handle("/record-assets", Operation("recordAssetsBulk", svc.RecordAssetsBulk))
	mux.Handle("/delete-asset", Operation("deleteAsset", svc.DeleteAsset))
	mux.Handle("/prune-missing-assets", Operation("pruneMissingAssets", svc.PruneMissingAssets))
	mux.Handle("/rebuild-index", Operation("rebuildIndex", svc.RebuildIndex))
	mux.Handle("/restore-from-storage", Operation("restoreFromStorage", svc.RestoreFromStorage))
	mux.Handle("/tag-assets", Operation("tagAssets", svc.TagAssets))
}

// ProjectRoutes registers the project pipeline endpoints.
func ProjectRoutes(mux *http.ServeMux, svc *services.Service) {
	mux.Handle("/projects", listOrCreate(svc))
	mux.Handle("/upload-source-pdf", Operation("uploadSourcePdf", svc.UploadSourcePDF))
	mux.Handle("/process-document", Operation("processDocument", svc.ProcessDocument))
	mux.Handle("/record-page", Operation("recordPage", svc.RecordPage))
	mux.Handle("/rasterize-pages", Operation("rasterizePages", svc.RasterizePages))
	mux.Handle("/detect-assets", Operation("detectAssets", svc.DetectAssets))
	mux.Handle("/extract-schema", Operation("extractSchema", svc.ExtractSchema))
	mux.Handle("/update-settings", Operation("updateSettings", svc.UpdateSettings))
	mux.Handle("/delete-project", Operation("deleteProject", svc.DeleteProject))
}

// NewMux serves every endpoint from one handler.
func NewMux(svc *services.Service) *http.ServeMux {
	mux := http.NewServeMux()
	AssetRoutes(mux, svc)
	ProjectRoutes(mux, svc)
	return mux
}

func listOrCreate(svc *services.Service) http.HandlerFunc {
	create := Operation("createProject", svc.CreateProject)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			create(w, r)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		res, err := svc.ListProjects(r.Context(), limit)
		if err != nil {
			slog.Error("Operation failed", "operation", "listProjects", "error", err)
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, res)
	}
}
