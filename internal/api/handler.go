package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ledgerline/contractflow/internal/coordination"
	"github.com/ledgerline/contractflow/internal/pipeline"
	"github.com/ledgerline/contractflow/internal/store"
	"github.com/ledgerline/contractflow/internal/vectorstore"
	"github.com/ledgerline/contractflow/internal/ws"
	"go.uber.org/zap"
)

// backgroundTimeout bounds the persistence and indexing work spawned off a
// workflow start; neither may delay the accepted response.
const backgroundTimeout = 30 * time.Second

// ContractStore persists uploaded contract documents and answers reads over
// them. Optional; the contract endpoints report unavailable when absent.
type ContractStore interface {
	SaveContract(ctx context.Context, c store.Contract) error
	GetContract(ctx context.Context, id string) (store.Contract, error)
	ListContractsByUser(ctx context.Context, userID string, limit int) ([]store.Contract, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine      *pipeline.Engine
	polling     *coordination.PollingBridgeAdapter
	connections *coordination.ConnectionRegistry
	wsServer    *ws.Server
	retriever   *vectorstore.Retriever
	contracts   ContractStore
	logger      *zap.Logger
}

// NewHandler creates a new API handler. retriever and contracts may be nil
// when similarity search or contract persistence is not configured.
func NewHandler(
	engine *pipeline.Engine,
	polling *coordination.PollingBridgeAdapter,
	connections *coordination.ConnectionRegistry,
	wsServer *ws.Server,
	retriever *vectorstore.Retriever,
	contracts ContractStore,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:      engine,
		polling:     polling,
		connections: connections,
		wsServer:    wsServer,
		retriever:   retriever,
		contracts:   contracts,
		logger:      logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))
	r.Use(WithPrincipal)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/workflows", h.startWorkflow)
		r.Get("/workflows/{id}/status", h.workflowStatus)
		r.Get("/workflows/{id}/pending", h.pendingRequest)
		r.Post("/workflows/{id}/input", h.submitInput)
		r.Post("/workflows/{id}/auto-resolve", h.autoResolve)
		r.Get("/workflows/{id}/similar", h.similarContracts)

		r.Get("/contracts", h.listContracts)
		r.Get("/contracts/{id}", h.getContract)
	})

	r.Get("/ws/workflows/{id}", h.attachObserver)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "contractflow"})
}

func (h *Handler) startWorkflow(w http.ResponseWriter, r *http.Request) {
	var req pipeline.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = PrincipalFrom(r.Context()).UserID
	}

	workflowID, err := h.engine.Start(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.contracts != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			contract := store.Contract{
				ID:     workflowID,
				Name:   req.ContractName,
				UserID: req.UserID,
				Text:   req.ContractText,
			}
			if err := h.contracts.SaveContract(ctx, contract); err != nil {
				h.logger.Warn("contract persistence failed",
					zap.String("workflow", workflowID), zap.Error(err))
			}
		}()
	}

	if h.retriever != nil && req.ContractText != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			if err := h.retriever.Index(ctx, workflowID, req.ContractName, req.ContractText); err != nil {
				h.logger.Warn("contract indexing failed",
					zap.String("workflow", workflowID), zap.Error(err))
			}
		}()
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"workflow_id": workflowID})
}

func (h *Handler) workflowStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := h.polling.GetStatus(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) pendingRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pending, err := h.polling.GetPendingRequest(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

type submitInputRequest struct {
	FieldValues map[string]any `json:"field_values"`
	UserNotes   string         `json:"user_notes"`
}

func (h *Handler) submitInput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req submitInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	accepted, err := h.polling.SubmitInput(id, req.FieldValues, req.UserNotes)
	if !accepted {
		status := http.StatusNotFound
		if errors.Is(err, coordination.ErrAlreadyResolved) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{"accepted": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (h *Handler) autoResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	accepted, err := h.polling.AutoResolve(id)
	if !accepted {
		writeJSON(w, http.StatusConflict, map[string]any{"accepted": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true})
}

func (h *Handler) similarContracts(w http.ResponseWriter, r *http.Request) {
	if h.retriever == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "similarity search not configured"})
		return
	}
	text := r.URL.Query().Get("text")
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text query parameter is required"})
		return
	}
	topK := parseTopK(r.URL.Query(), 5)

	matches, err := h.retriever.Similar(r.Context(), text, topK)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

func (h *Handler) listContracts(w http.ResponseWriter, r *http.Request) {
	if h.contracts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "contract store not configured"})
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = PrincipalFrom(r.Context()).UserID
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	contracts, err := h.contracts.ListContractsByUser(r.Context(), userID, limit)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if contracts == nil {
		contracts = []store.Contract{}
	}
	writeJSON(w, http.StatusOK, contracts)
}

func (h *Handler) getContract(w http.ResponseWriter, r *http.Request) {
	if h.contracts == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "contract store not configured"})
		return
	}
	contract, err := h.contracts.GetContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (h *Handler) attachObserver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.wsServer.Attach(w, r, id)
}

func parseTopK(q url.Values, fallback uint64) uint64 {
	if v := q.Get("top_k"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
