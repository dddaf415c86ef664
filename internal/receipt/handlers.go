package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kassenbon/analyzer/internal/classify"
	"github.com/kassenbon/analyzer/internal/scanning"
)

const (
	maxUploadSize    = int64(50 << 20) // 50MB
	maxRuleSetSize   = int64(4 << 20)
	filterDateLayout = "2006-01-02"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid receipt ID %q", r.PathValue("id"))
	}
	return id, nil
}

// parseFilter reads the store, date_from and date_to query parameters.
func parseFilter(r *http.Request) (Filter, error) {
	q := r.URL.Query()
	f := Filter{Store: q.Get("store")}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"date_from", &f.From},
		{"date_to", &f.To},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.ParseInLocation(filterDateLayout, v, time.UTC)
		if err != nil {
			return Filter{}, fmt.Errorf("invalid %s %q, expected YYYY-MM-DD", p.name, v)
		}
		*p.dst = &t
	}
	return f, nil
}

// handleUpload handles a PDF upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file was selected. Please choose a PDF to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "file", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	res, err := s.service.ProcessUpload(header.Filename, data)
	switch {
	case errors.Is(err, ErrNotPDF):
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, scanning.ErrExtraction):
		writeError(w, "The PDF could not be read: "+err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		slog.Error("Error processing upload", "file", header.Filename, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if res.Duplicate {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// handleListReceipts returns the shopping history, newest first
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	receipts, err := s.service.ListReceipts(f, limit)
	if err != nil {
		slog.Error("Error listing receipts", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	receipt, err := s.service.GetReceipt(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error getting receipt", "receipt_id", id, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptPDF returns the archived PDF of a receipt
func (s *Server) handleGetReceiptPDF(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, name, err := s.service.GetReceiptPDF(id)
	if err != nil {
		slog.Warn("Receipt PDF not available", "receipt_id", id, "error", err)
		writeError(w, "File not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = s.service.DeleteReceipt(id)
	if errors.Is(err, ErrNotFound) {
		writeError(w, "Receipt not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Error deleting receipt", "receipt_id", id, "error", err)
		writeError(w, "Error deleting receipt", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleStatistics returns spending per category
func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	totals, err := s.service.Statistics(f)
	if err != nil {
		slog.Error("Error computing statistics", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

// handleCategoryDetails lists the purchases of one category
func (s *Server) handleCategoryDetails(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	items, err := s.service.CategoryDetails(r.PathValue("category"), f)
	if err != nil {
		slog.Error("Error listing category details", "category", r.PathValue("category"), "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleSearch searches items by name
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.SearchItems(r.URL.Query().Get("q"))
	if err != nil {
		slog.Error("Error searching items", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handlePriceHistory returns the unit prices paid for an item
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}
	points, err := s.service.PriceHistory(name)
	if err != nil {
		slog.Error("Error querying price history", "name", name, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.service.Stores()
	if err != nil {
		slog.Error("Error listing stores", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (s *Server) handleDateRange(w http.ResponseWriter, r *http.Request) {
	dr, err := s.service.DateRange()
	if err != nil {
		slog.Error("Error computing date range", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, dr)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Dashboard()
	if err != nil {
		slog.Error("Error computing dashboard", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleExportXLSX returns the filtered items as a spreadsheet
func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := s.service.ExportXLSX(f)
	if err != nil {
		slog.Error("Error exporting", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("kassenbons_%s.xlsx", s.service.timeSource.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Write(data)
}

// handleImportCheck lists the PDFs waiting in the inbox
func (s *Server) handleImportCheck(w http.ResponseWriter, r *http.Request) {
	files, err := s.service.PendingImports()
	if err != nil {
		slog.Error("Error listing inbox", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"folder": s.service.Inbox(),
		"count":  len(files),
		"files":  files,
	})
}

// handleImportStart imports every PDF in the inbox
func (s *Server) handleImportStart(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.ImportInbox(r.Context())
	if err != nil {
		slog.Error("Batch import failed", "error", err)
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleGetCategories returns the active rule document
func (s *Server) handleGetCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Rules())
}

// handleSaveCategories replaces the rule document
func (s *Server) handleSaveCategories(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRuleSetSize))
	if err != nil {
		writeError(w, "Error reading request body", http.StatusBadRequest)
		return
	}
	rs, err := classify.Parse(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.service.SaveRules(rs); err != nil {
		slog.Error("Error saving rules", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(rs)})
}

// handleReclassify reruns classification over all stored items
func (s *Server) handleReclassify(w http.ResponseWriter, r *http.Request) {
	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	res, err := s.service.Reclassify(dryRun)
	if err != nil {
		slog.Error("Error reclassifying items", "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
