package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mike2153/portfolio-tracker-sub000/src/logger"
	"github.com/mike2153/portfolio-tracker-sub000/src/models"
	"github.com/mike2153/portfolio-tracker-sub000/src/services"
	"github.com/mike2153/portfolio-tracker-sub000/src/utils"
)

type TransactionHandler struct {
	txStore services.TransactionStore
}

func NewTransactionHandler(txStore services.TransactionStore) *TransactionHandler {
	return &TransactionHandler{txStore: txStore}
}

// transactionRequest is the ingestion payload; dates arrive as
// "2006-01-02" strings.
type transactionRequest struct {
	Symbol       string  `json:"symbol"`
	TxType       string  `json:"transaction_type"`
	Quantity     float64 `json:"quantity"`
	PricePerUnit float64 `json:"price_per_unit"`
	Commission   float64 `json:"commission"`
	Date         string  `json:"date"`
	Currency     string  `json:"currency"`
}

func (h *TransactionHandler) HandleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	date, err := time.Parse(utils.DefaultDateFormat, req.Date)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("invalid date %q, expected %s", req.Date, utils.DefaultDateFormat), http.StatusBadRequest)
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "USD"
	}

	tx := models.Transaction{
		UserID:       userID,
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		TxType:       strings.ToUpper(strings.TrimSpace(req.TxType)),
		Quantity:     req.Quantity,
		PricePerUnit: req.PricePerUnit,
		Commission:   req.Commission,
		Date:         date,
		Currency:     currency,
	}
	if err := tx.Validate(); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.txStore.Insert(tx)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error storing transaction for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	tx.ID = id
	logger.FromContext(r.Context()).Info("Transaction recorded", "userID", userID, "symbol", tx.Symbol, "type", tx.TxType)
	utils.SendJSON(w, tx, http.StatusCreated)
}

func (h *TransactionHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	txs, err := h.txStore.ListByUser(userID)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving transactions for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	utils.SendJSON(w, txs, http.StatusOK)
}

func (h *TransactionHandler) HandleDeleteAllTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required or user ID not found in context", http.StatusUnauthorized)
		return
	}

	deleted, err := h.txStore.DeleteByUser(userID)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error deleting transactions for userID %d: %v", userID, err), http.StatusInternalServerError)
		return
	}
	logger.FromContext(r.Context()).Info("Deleted all transactions", "userID", userID, "count", deleted)
	utils.SendJSON(w, map[string]int64{"deleted": deleted}, http.StatusOK)
}
