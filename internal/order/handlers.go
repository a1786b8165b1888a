package order

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/exam-quote/internal/learning"
	"github.com/zombor/exam-quote/internal/reconcile"
	"github.com/zombor/exam-quote/internal/scanning"
)

// maxUploadSize leaves room for high-resolution phone photos
const maxUploadSize = int64(50 << 20)

type errorResponse struct {
	Error string `json:"error"`
	Retry bool   `json:"retry,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message})
}

// writeError maps service and workflow errors to HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	var (
		batchErr  *reconcile.BatchError
		searchErr *reconcile.SearchError
	)
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, reconcile.ErrItemNotFound), errors.Is(err, learning.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, reconcile.ErrIndexOutOfRange), errors.Is(err, scanning.ErrLineOutOfRange), errors.Is(err, ErrEmptyUpload):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, reconcile.ErrNoTermsExtracted):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "No exams were identified in the order. Edit the extracted lines and try again.",
		})
	case errors.As(err, &batchErr):
		slog.Error("Exam list validation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: batchErr.Error(), Retry: true})
	case errors.As(err, &searchErr), errors.Is(err, ErrExtractionFailed):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, reconcile.ErrPendingItems),
		errors.Is(err, reconcile.ErrSearchInFlight),
		errors.Is(err, reconcile.ErrStaleSearch),
		errors.Is(err, reconcile.ErrSearchClosed),
		errors.Is(err, reconcile.ErrReconcileInFlight),
		errors.Is(err, reconcile.ErrNotReconciled),
		errors.Is(err, reconcile.ErrAlreadyProceeded):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrNoJournal):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		slog.Error("Unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
	}
}

func pathInt(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(r.PathValue(name))
	return n, err == nil
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

// detectContentType falls back to the file extension when the upload has no type
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error: "File is too large. Maximum size is 50MB. Please compress or resize your image.",
			})
			return
		}
		writeBadRequest(w, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeBadRequest(w, "No file was selected. Please choose a file to upload.")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file. Please try again."})
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)
	view, err := s.service.CreateOrder(r.Context(), header.Filename, data, contentType, r.FormValue("unit"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.ListOrders())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetOrder(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteOrder(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetOrderFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetOrderFile(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleEditLine(w http.ResponseWriter, r *http.Request) {
	index, ok := pathInt(r, "index")
	if !ok {
		writeBadRequest(w, "Line index must be a number")
		return
	}
	var req struct {
		Corrected *string `json:"corrected"`
	}
	if err := decodeBody(r, &req); err != nil || req.Corrected == nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	line, err := s.service.EditLine(r.PathValue("id"), index, *req.Corrected)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Reconcile(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.AddItem(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	if err := s.service.RemoveItem(r.PathValue("id"), itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	var req struct {
		Index *int `json:"index"`
	}
	if err := decodeBody(r, &req); err != nil || req.Index == nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	item, err := s.service.SelectCandidate(r.PathValue("id"), itemID, *req.Index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleOpenSearch(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	if err := s.service.OpenSearch(r.PathValue("id"), itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	var req struct {
		Term string `json:"term"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	results, err := s.service.Search(r.Context(), r.PathValue("id"), itemID, req.Term)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item_id": itemID, "results": results})
}

func (s *Server) handleCancelSearch(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	if err := s.service.CancelSearch(r.PathValue("id"), itemID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt(r, "item")
	if !ok {
		writeBadRequest(w, "Item ID must be a number")
		return
	}
	var req struct {
		Result *int `json:"result"`
	}
	if err := decodeBody(r, &req); err != nil || req.Result == nil {
		writeBadRequest(w, "Invalid request body")
		return
	}

	item, err := s.service.AttachResult(r.PathValue("id"), itemID, *req.Result)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Proceed(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.service.LearnedMappings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mappings)
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	mapping, err := s.service.LearnedMapping(r.PathValue("term"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mapping)
}

func (s *Server) handleListMissing(w http.ResponseWriter, r *http.Request) {
	terms, err := s.service.MissingTerms()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}
