package grocery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/grocery-tracker/internal/pricing"
	"github.com/zombor/grocery-tracker/internal/scanning"
)

const maxUploadSize = int64(50 << 20) // 50MB

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body with CORS headers set
func writeError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrReceiptNotFound), errors.Is(err, ErrNoFile):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyReceipt),
		errors.Is(err, ErrInvalidObservation),
		errors.Is(err, ErrInvalidOffer),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, scanning.ErrUnsupportedContent):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrNoRecognizer):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs server-side failures and reports the error to the client
func writeServiceError(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", code)
		return
	}
	writeError(w, err.Error(), code)
}

// contentTypeFor picks a content type from a declared header or the file extension
func contentTypeFor(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
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
	case ".eml":
		return "message/rfc822"
	case ".html", ".htm":
		return "text/html"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// daysParam reads the optional days query parameter; zero means the configured window
func daysParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return 0, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil || days < 0 {
		return 0, fmt.Errorf("days must be a non-negative integer")
	}
	return days, nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, "listing receipts", err)
		return
	}
	if receipts == nil {
		receipts = []*Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleUploadReceipt handles receipt upload
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		if errors.Is(err, http.ErrMissingFile) {
			writeError(w, "No file was selected. Please choose a file to upload.", http.StatusBadRequest)
			return
		}
		writeError(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := contentTypeFor(header.Header.Get("Content-Type"), header.Filename)
	storeHint := r.FormValue("store")

	receipt, err := s.service.ProcessReceipt(r.Context(), header.Filename, data, contentType, storeHint)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeServiceError(w, "processing receipt", err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleCreateReceiptFromText parses receipt text transcribed by the client
func (s *Server) handleCreateReceiptFromText(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text  string `json:"text"`
		Store string `json:"store"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	receipt, err := s.service.CreateReceiptFromText(r.Context(), req.Text, req.Store)
	if err != nil {
		writeServiceError(w, "creating receipt from text", err)
		return
	}

	writeJSON(w, http.StatusCreated, receipt)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "getting receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleGetReceiptFile returns the file for a receipt
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			writeError(w, "File not found", http.StatusNotFound)
			return
		}
		writeServiceError(w, "getting receipt file", err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

// handleDeleteReceipt deletes a receipt
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, "deleting receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAnalyzeReceipt returns the savings analysis for a receipt
func (s *Server) handleAnalyzeReceipt(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.service.AnalyzeReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, "analyzing receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// handleExportAnalysis downloads the savings analysis as xlsx or pdf
func (s *Server) handleExportAnalysis(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = FormatXLSX
	}

	export, err := s.service.ExportAnalysis(r.Context(), r.PathValue("id"), format)
	if err != nil {
		writeServiceError(w, "exporting analysis", err)
		return
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.Filename))
	w.Write(export.Data)
}

// handleListItems returns every item with recorded prices
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems()
	if err != nil {
		writeServiceError(w, "listing items", err)
		return
	}
	if items == nil {
		items = []string{}
	}
	writeJSON(w, http.StatusOK, items)
}

// handlePriceHistory returns an item's recent prices
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := s.service.PriceHistory(r.PathValue("item"), days)
	if err != nil {
		writeServiceError(w, "getting price history", err)
		return
	}
	if history == nil {
		history = []pricing.PriceObservation{}
	}
	writeJSON(w, http.StatusOK, history)
}

// handleCompareStores returns an item's recent prices summarized per store
func (s *Server) handleCompareStores(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	comparisons, err := s.service.CompareStores(r.PathValue("item"), days)
	if err != nil {
		writeServiceError(w, "comparing stores", err)
		return
	}
	if comparisons == nil {
		comparisons = []pricing.StoreComparison{}
	}
	writeJSON(w, http.StatusOK, comparisons)
}

// handleBestPrice returns the best recent price for an item
func (s *Server) handleBestPrice(w http.ResponseWriter, r *http.Request) {
	days, err := daysParam(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	best, err := s.service.BestPrice(r.PathValue("item"), days)
	if err != nil {
		writeServiceError(w, "finding best price", err)
		return
	}
	if best == nil {
		writeError(w, "No recent prices for item", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, best)
}

// handleRecordObservation stores a manually entered price
func (s *Server) handleRecordObservation(w http.ResponseWriter, r *http.Request) {
	var input ObservationInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	point, err := s.service.RecordObservation(r.Context(), input)
	if err != nil {
		writeServiceError(w, "recording observation", err)
		return
	}
	writeJSON(w, http.StatusCreated, point)
}

// handleListCashbackOffers returns all cashback offers
func (s *Server) handleListCashbackOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.service.ListCashbackOffers()
	if err != nil {
		writeServiceError(w, "listing cashback offers", err)
		return
	}
	if offers == nil {
		offers = []*CashbackOffer{}
	}
	writeJSON(w, http.StatusOK, offers)
}

// handleCreateCashbackOffer stores a new cashback offer; offers are active unless stated otherwise
func (s *Server) handleCreateCashbackOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StoreName          string           `json:"store_name"`
		ItemName           string           `json:"item_name"`
		DiscountAmount     *decimal.Decimal `json:"discount_amount"`
		DiscountPercentage *decimal.Decimal `json:"discount_percentage"`
		ValidFrom          *time.Time       `json:"valid_from"`
		ValidUntil         *time.Time       `json:"valid_until"`
		Active             *bool            `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	offer, err := s.service.SaveCashbackOffer(&CashbackOffer{
		StoreName:          req.StoreName,
		ItemName:           req.ItemName,
		DiscountAmount:     req.DiscountAmount,
		DiscountPercentage: req.DiscountPercentage,
		ValidFrom:          req.ValidFrom,
		ValidUntil:         req.ValidUntil,
		Active:             active,
	})
	if err != nil {
		writeServiceError(w, "saving cashback offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}
