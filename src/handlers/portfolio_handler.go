package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/services"
	"github.com/mike2153/portfolio-tracker-sub000/src/utils"
)

type PortfolioHandler struct {
	performanceService services.PerformanceService
}

func NewPortfolioHandler(performanceService services.PerformanceService) *PortfolioHandler {
	return &PortfolioHandler{performanceService: performanceService}
}

func (h *PortfolioHandler) HandleGetPortfolioSnapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	logger.FromContext(r.Context()).Info("Handling GetPortfolioSnapshot", "userID", userID)

	snapshot, err := h.performanceService.CurrentHoldings(r.Context(), userID)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error building portfolio snapshot for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, snapshot, http.StatusOK)
}

func (h *PortfolioHandler) HandleGetTimeSeries(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	rangeKey := r.URL.Query().Get("range")
	benchmark := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("benchmark")))
	logger.FromContext(r.Context()).Info("Handling GetTimeSeries", "userID", userID, "range", rangeKey, "benchmark", benchmark)

	series, err := h.performanceService.TimeSeries(r.Context(), userID, rangeKey, benchmark)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error building time series for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, series, http.StatusOK)
}

func (h *PortfolioHandler) HandleGetPerformanceMetrics(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}
	benchmark := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("benchmark")))
	logger.FromContext(r.Context()).Info("Handling GetPerformanceMetrics", "userID", userID, "benchmark", benchmark)

	metrics, err := h.performanceService.PerformanceMetrics(r.Context(), userID, benchmark)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error computing performance metrics for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, metrics, http.StatusOK)
}

func (h *PortfolioHandler) HandleRefreshPrices(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var payload struct {
		Symbols []string `json:"symbols"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	logger.FromContext(r.Context()).Info("Handling RefreshPrices", "userID", userID, "symbols", len(payload.Symbols))

	result, err := h.performanceService.RefreshPrices(r.Context(), userID, payload.Symbols)
	if err != nil {
		if errors.Is(err, services.ErrRateLimited) {
			utils.SendJSONError(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		utils.SendJSONError(w, fmt.Sprintf("Error refreshing prices for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, result, http.StatusOK)
}
