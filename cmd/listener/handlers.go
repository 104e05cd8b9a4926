package main

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/bridge-listener/pkg/store"
)

const defaultListLimit = 100

// tokenDecimals is the display scale for amounts; bridge amounts are
// 18-decimal fixed point on the wire.
const tokenDecimals = 18

type transactionResponse struct {
	*store.Transaction
	AmountTokens string `json:"amount_tokens,omitempty"`
}

func toResponse(tx *store.Transaction) transactionResponse {
	resp := transactionResponse{Transaction: tx}
	if n, ok := new(big.Int).SetString(tx.Details.Amount, 10); ok {
		resp.AmountTokens = decimal.NewFromBigInt(n, -tokenDecimals).String()
	}
	return resp
}

func handleListTransactions(txStore store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			txs []*store.Transaction
			err error
		)

		if status := r.URL.Query().Get("status"); status != "" {
			s := store.Status(status)
			if !s.Valid() {
				http.Error(w, "unknown status", http.StatusBadRequest)
				return
			}
			txs, err = txStore.ListByStatus(r.Context(), s)
		} else {
			txs, err = txStore.List(r.Context(), defaultListLimit)
		}
		if err != nil {
			logger.Error("Failed to list transactions", zap.Error(err))
			http.Error(w, "Failed to list transactions", http.StatusInternalServerError)
			return
		}

		resp := make([]transactionResponse, 0, len(txs))
		for _, tx := range txs {
			resp = append(resp, toResponse(tx))
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"transactions": resp}); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}

func handleGetTransaction(txStore store.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		tx, err := txStore.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			logger.Error("Failed to get transaction", zap.Error(err), zap.String("id", id))
			http.Error(w, "Failed to get transaction", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toResponse(tx)); err != nil {
			logger.Error("Failed to encode response", zap.Error(err))
		}
	}
}
