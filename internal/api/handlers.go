package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/auction-fulfillment/internal/api/middleware"
	"github.com/example/auction-fulfillment/internal/chat"
	"github.com/example/auction-fulfillment/internal/command"
	"github.com/example/auction-fulfillment/internal/domain/order"
	"github.com/example/auction-fulfillment/internal/query"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	chat         *chat.Service
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, chatSvc *chat.Service) *Handlers {
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		chat:         chatSvc,
	}
}

// Order Handlers

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.CreateOrder
	if !decodeBody(w, r, &cmd) {
		return
	}

	o, err := h.cmdHandler.CreateOrder(r.Context(), cmd)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.queryHandler.ListOrdersForUser(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrder(r.Context(), chi.URLParam(r, "id"), viewer(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) GetOrderByProduct(w http.ResponseWriter, r *http.Request) {
	o, err := h.queryHandler.GetOrderByProduct(r.Context(), chi.URLParam(r, "productID"), viewer(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) SubmitPaymentEvidence(w http.ResponseWriter, r *http.Request) {
	var cmd command.SubmitPaymentEvidence
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")
	cmd.CallerID = middleware.GetUserID(r.Context())

	h.respondOrder(w)(h.cmdHandler.SubmitPaymentEvidence(r.Context(), cmd))
}

func (h *Handlers) ConfirmShipment(w http.ResponseWriter, r *http.Request) {
	var cmd command.ConfirmShipment
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")
	cmd.CallerID = middleware.GetUserID(r.Context())

	h.respondOrder(w)(h.cmdHandler.ConfirmShipment(r.Context(), cmd))
}

func (h *Handlers) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	cmd := command.ConfirmDelivery{
		OrderID:  chi.URLParam(r, "id"),
		CallerID: middleware.GetUserID(r.Context()),
	}
	h.respondOrder(w)(h.cmdHandler.ConfirmDelivery(r.Context(), cmd))
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var cmd command.CancelOrder
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")
	cmd.CallerID = middleware.GetUserID(r.Context())

	h.respondOrder(w)(h.cmdHandler.CancelOrder(r.Context(), cmd))
}

func (h *Handlers) SubmitRating(w http.ResponseWriter, r *http.Request) {
	var cmd command.SubmitRating
	if !decodeBody(w, r, &cmd) {
		return
	}
	cmd.OrderID = chi.URLParam(r, "id")
	cmd.CallerID = middleware.GetUserID(r.Context())

	h.respondOrder(w)(h.cmdHandler.SubmitRating(r.Context(), cmd))
}

func (h *Handlers) respondOrder(w http.ResponseWriter) func(*order.Order, error) {
	return func(o *order.Order, err error) {
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, o)
	}
}

// Chat Handlers

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.chat.ListMessages(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, messages)
}

func (h *Handlers) AppendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	msg, err := h.chat.AppendMessage(r.Context(), chi.URLParam(r, "id"), middleware.GetUserID(r.Context()), req.Text)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

// Reputation Handlers

func (h *Handlers) GetReputation(w http.ResponseWriter, r *http.Request) {
	agg, err := h.queryHandler.GetReputation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agg)
}

func (h *Handlers) ListRatingsReceived(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, err)
		return
	}
	ratings, err := h.queryHandler.ListRatingsReceived(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ratings)
}

func (h *Handlers) ListRatingsGiven(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		respondError(w, err)
		return
	}
	ratings, err := h.queryHandler.ListRatingsGiven(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ratings)
}

// Helper functions

// decodeBody decodes a JSON request body. An empty body leaves dst untouched
// so the domain validation reports missing fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	middleware.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid json body")
	return false
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", order.ErrValidationFailed)
	}
	return limit, nil
}

func viewer(r *http.Request) query.Viewer {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return query.Viewer{}
	}
	return query.Viewer{UserID: claims.UserID, Admin: claims.IsAdmin()}
}
