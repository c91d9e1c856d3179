package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kaifufi/trade-coordinator/internal/coordinator"
	"github.com/kaifufi/trade-coordinator/internal/wshub"
)

// Server wires one approval engine per served chain, a shared soft-cancel
// handler, and the WebSocket hub into an HTTP surface. chainId is resolved
// per-request from the URL against Chains/Engines.
type Server struct {
	Chains     map[string]*coordinator.Chain  // keyed by decimal chain id string
	Engines    map[string]*coordinator.Engine // keyed by decimal chain id string
	SoftCancel *coordinator.SoftCancelHandler
	Hub        *wshub.Hub
	Log        *logrus.Logger
}

// Router builds the chi router this server answers on.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/v2/{chainId}", func(api chi.Router) {
		api.Post("/request_transaction", s.handleRequestTransaction)
		api.Post("/soft_cancels", s.handleSoftCancels)
		api.Get("/events", s.handleEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) chainFromRequest(w http.ResponseWriter, r *http.Request) (*coordinator.Chain, bool) {
	chainID := chi.URLParam(r, "chainId")
	chain, ok := s.Chains[chainID]
	if !ok {
		WriteError(w, http.StatusNotFound, ValidationError{
			Code:   "UnsupportedChain",
			Field:  "chainId",
			Reason: "this coordinator does not serve chain " + chainID,
		})
		return nil, false
	}
	return chain, true
}

func (s *Server) handleRequestTransaction(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.chainFromRequest(w, r)
	if !ok {
		return
	}

	var body requestTransactionBody
	if err := ReadJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, ValidationError{Code: "SCHEMA_INVALID", Reason: err.Error()})
		return
	}
	req, err := body.toRequest()
	if err != nil {
		if verr, ok := err.(*ValidationError); ok {
			WriteError(w, http.StatusBadRequest, *verr)
			return
		}
		WriteError(w, http.StatusBadRequest, ValidationError{Code: "SCHEMA_INVALID", Reason: err.Error()})
		return
	}

	engine := s.Engines[chain.ChainID.String()]
	approval, cancel, err := engine.Handle(r.Context(), chain, req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if cancel != nil {
		WriteJSON(w, http.StatusOK, newCancelResponseBody(cancel))
		return
	}
	WriteJSON(w, http.StatusOK, newApprovalResponseBody(approval))
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	if cerr, ok := err.(*coordinator.Error); ok {
		WriteError(w, http.StatusBadRequest, errorFromCoordinatorError(cerr))
		return
	}
	s.Log.WithError(err).Error("httpapi: internal error handling request_transaction")
	WriteError(w, http.StatusInternalServerError, ValidationError{Code: "InternalError", Reason: "internal error"})
}

func (s *Server) handleSoftCancels(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.chainFromRequest(w, r); !ok {
		return
	}

	var body softCancelsRequestBody
	if err := ReadJSON(r, &body); err != nil {
		WriteError(w, http.StatusBadRequest, ValidationError{Code: "SCHEMA_INVALID", Reason: err.Error()})
		return
	}

	statuses, err := s.SoftCancel.Status(r.Context(), parseOrderHashes(body.OrderHashes))
	if err != nil {
		s.Log.WithError(err).Error("httpapi: internal error handling soft_cancels")
		WriteError(w, http.StatusInternalServerError, ValidationError{Code: "InternalError", Reason: "internal error"})
		return
	}

	var cancelled []string
	for _, status := range statuses {
		if status.SoftCancelled {
			cancelled = append(cancelled, status.OrderHash.Hex())
		}
	}
	WriteJSON(w, http.StatusOK, softCancelsResponseBody{OrderHashes: cancelled})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	chain, ok := s.chainFromRequest(w, r)
	if !ok {
		return
	}
	if err := s.Hub.ServeWS(chain.ChainID.String(), w, r); err != nil {
		s.Log.WithError(err).Warn("httpapi: websocket upgrade failed")
	}
}
