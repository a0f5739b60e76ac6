// backend/src/handlers/ledger_handler.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/utils"
)

// LedgerHandler serves the persisted pipeline artifacts as read-only JSON.
type LedgerHandler struct {
	store       *database.Store
	reportCache *cache.Cache
}

func NewLedgerHandler(store *database.Store, reportCache *cache.Cache) *LedgerHandler {
	return &LedgerHandler{
		store:       store,
		reportCache: reportCache,
	}
}

// respondWithETag encodes payload as JSON with an ETag, answering
// If-None-Match with 304 when the client copy is current.
func (h *LedgerHandler) respondWithETag(w http.ResponseWriter, r *http.Request, payload interface{}) {
	etag, err := utils.GenerateETag(payload)
	if err != nil {
		logger.L.Error("Error generating ETag", "path", r.URL.Path, "error", err)
		utils.SendJSONError(w, "Error preparing response", http.StatusInternalServerError)
		return
	}
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("Error encoding response to JSON", "path", r.URL.Path, "error", err)
	}
}

// load runs fetch through the report cache under cacheKey.
func (h *LedgerHandler) load(cacheKey string, fetch func() (interface{}, error)) (interface{}, error) {
	if h.reportCache != nil {
		if cached, found := h.reportCache.Get(cacheKey); found {
			return cached, nil
		}
	}
	payload, err := fetch()
	if err != nil {
		return nil, err
	}
	if h.reportCache != nil {
		h.reportCache.Set(cacheKey, payload, cache.DefaultExpiration)
	}
	return payload, nil
}

func (h *LedgerHandler) handleList(w http.ResponseWriter, r *http.Request, name, cacheKey string, fetch func() (interface{}, error)) {
	logger.L.Info("Handling "+name, "path", r.URL.Path)
	payload, err := h.load(cacheKey, fetch)
	if err != nil {
		logger.L.Error("Error retrieving "+name, "error", err)
		utils.SendJSONError(w, fmt.Sprintf("Error retrieving %s: %v", name, err), http.StatusInternalServerError)
		return
	}
	h.respondWithETag(w, r, payload)
}

func (h *LedgerHandler) HandleGetRawEvents(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "raw events", "raw_events", func() (interface{}, error) {
		return h.store.ListRawEvents()
	})
}

func (h *LedgerHandler) HandleGetEffectiveEvents(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "effective events", "effective_events", func() (interface{}, error) {
		return h.store.ListEffectiveEvents()
	})
}

func (h *LedgerHandler) HandleGetCorrectionAudit(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "correction audit", "correction_audit", func() (interface{}, error) {
		return h.store.ListAuditEntries()
	})
}

func (h *LedgerHandler) HandleGetAcquisitionLots(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "acquisition lots", "acquisition_lots", func() (interface{}, error) {
		return h.store.ListAcquisitionLots()
	})
}

func (h *LedgerHandler) HandleGetDisposalLinks(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "disposal links", "disposal_links", func() (interface{}, error) {
		return h.store.ListDisposalLinks()
	})
}

func (h *LedgerHandler) HandleGetTaxEvents(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "tax events", "tax_events", func() (interface{}, error) {
		return h.store.ListTaxEvents()
	})
}

func (h *LedgerHandler) HandleGetWalletBalances(w http.ResponseWriter, r *http.Request) {
	h.handleList(w, r, "wallet balances", "wallet_balances", func() (interface{}, error) {
		return h.store.ListWalletBalances()
	})
}
