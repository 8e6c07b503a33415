package hrest

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
)

type LedgerRestHandler struct {
	moveUC      *usecase.MoveUsecase
	paymentUC   *usecase.PaymentUsecase
	reconcileUC *usecase.ReconcileUsecase
	statementUC *usecase.StatementUsecase
	fxUC        *usecase.FxUsecase
}

func NewLedgerRestHandler(
	moveUC *usecase.MoveUsecase,
	paymentUC *usecase.PaymentUsecase,
	reconcileUC *usecase.ReconcileUsecase,
	statementUC *usecase.StatementUsecase,
	fxUC *usecase.FxUsecase,
) *LedgerRestHandler {
	return &LedgerRestHandler{
		moveUC:      moveUC,
		paymentUC:   paymentUC,
		reconcileUC: reconcileUC,
		statementUC: statementUC,
		fxUC:        fxUC,
	}
}

func urlID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func decodeOptions(r *http.Request) domain.Options {
	return domain.Options{
		SkipSync:        r.URL.Query().Get("skip_sync") == "true",
		TaxLockOverride: r.URL.Query().Get("tax_lock_override") == "true",
	}
}

// ===============================
// MOVES
// ===============================

func (h *LedgerRestHandler) CreateMove(w http.ResponseWriter, r *http.Request) {
	var in domain.Move
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	move, err := h.moveUC.CreateDraft(r.Context(), &in, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, move)
}

func (h *LedgerRestHandler) GetMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	move, err := h.moveUC.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) UpdateMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	var in domain.Move
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	in.ID = id
	move, err := h.moveUC.UpdateDraft(r.Context(), &in, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) PostMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	move, err := h.moveUC.Post(r.Context(), id, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) CancelMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	move, err := h.moveUC.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) ResetMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	move, err := h.moveUC.ResetToDraft(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) DeleteMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	if err := h.moveUC.Unlink(r.Context(), id, decodeOptions(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reverseMoveJSON struct {
	Date time.Time `json:"date"`
}

func (h *LedgerRestHandler) ReverseMove(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	var in reverseMoveJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}
	move, err := h.moveUC.Reverse(r.Context(), id, in.Date, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, move)
}

func (h *LedgerRestHandler) AddMoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid move id")
		return
	}
	var in domain.MoveLine
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	move, err := h.moveUC.AddLine(r.Context(), id, &in, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) EditMoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	var in domain.MoveLine
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	in.ID = id
	move, err := h.moveUC.EditLine(r.Context(), &in, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

func (h *LedgerRestHandler) RemoveMoveLine(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	move, err := h.moveUC.RemoveLine(r.Context(), id, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, move)
}

// ===============================
// PAYMENTS
// ===============================

type paymentJSON struct {
	domain.Payment
	WriteOff *domain.WriteOff `json:"write_off,omitempty"`
}

func (h *LedgerRestHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var in paymentJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	p, err := h.paymentUC.Create(r.Context(), &in.Payment, in.WriteOff)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *LedgerRestHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid payment id")
		return
	}
	p, err := h.paymentUC.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid payment id")
		return
	}
	var in paymentJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	in.Payment.ID = id
	p, err := h.paymentUC.Update(r.Context(), &in.Payment, in.WriteOff, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) PostPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid payment id")
		return
	}
	p, err := h.paymentUC.Post(r.Context(), id, decodeOptions(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid payment id")
		return
	}
	p, err := h.paymentUC.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *LedgerRestHandler) ListPartnerPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid partner id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	payments, err := h.paymentUC.ListByPartner(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// ===============================
// RECONCILIATION
// ===============================

type reconcileJSON struct {
	LineIDs []int64 `json:"line_ids"`
}

func (h *LedgerRestHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var in reconcileJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	result, err := h.reconcileUC.Reconcile(r.Context(), in.LineIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type partialReconcileJSON struct {
	DebitLineID  int64           `json:"debit_line_id"`
	CreditLineID int64           `json:"credit_line_id"`
	Amount       decimal.Decimal `json:"amount"`
}

func (h *LedgerRestHandler) ReconcilePartial(w http.ResponseWriter, r *http.Request) {
	var in partialReconcileJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	partial, err := h.reconcileUC.ReconcilePartial(r.Context(), in.DebitLineID, in.CreditLineID, in.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, partial)
}

func (h *LedgerRestHandler) BreakReconciliation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid line id")
		return
	}
	if err := h.reconcileUC.Break(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ===============================
// STATEMENTS
// ===============================

func (h *LedgerRestHandler) IngestStatement(w http.ResponseWriter, r *http.Request) {
	var in domain.Statement
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	s, err := h.statementUC.Ingest(r.Context(), &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *LedgerRestHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	s, err := h.statementUC.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *LedgerRestHandler) DeleteStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	if err := h.statementUC.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerRestHandler) ProposeMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid statement line id")
		return
	}
	cand, err := h.statementUC.Propose(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cand)
}

func (h *LedgerRestHandler) AcceptMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid statement line id")
		return
	}
	var in domain.Candidate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	line, err := h.statementUC.Accept(r.Context(), id, &in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (h *LedgerRestHandler) AutoProcessStatement(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid statement id")
		return
	}
	processed, err := h.statementUC.AutoProcess(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

// ===============================
// RECONCILE MODELS & RATES
// ===============================

func (h *LedgerRestHandler) CreateModel(w http.ResponseWriter, r *http.Request) {
	var in domain.ReconcileModel
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := h.statementUC.CreateModel(r.Context(), &in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (h *LedgerRestHandler) UpdateModel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid model id")
		return
	}
	var in domain.ReconcileModel
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	in.ID = id
	if err := h.statementUC.UpdateModel(r.Context(), &in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *LedgerRestHandler) DeleteModel(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "id")
	if !ok {
		badRequest(w, "invalid model id")
		return
	}
	if err := h.statementUC.DeleteModel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LedgerRestHandler) SetRate(w http.ResponseWriter, r *http.Request) {
	var in domain.Rate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if err := h.fxUC.SetRate(r.Context(), &in); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// ===============================
// ROUTER
// ===============================

func (h *LedgerRestHandler) registerRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Post("/moves", h.CreateMove)
		r.Get("/moves/{id}", h.GetMove)
		r.Put("/moves/{id}", h.UpdateMove)
		r.Delete("/moves/{id}", h.DeleteMove)
		r.Post("/moves/{id}/post", h.PostMove)
		r.Post("/moves/{id}/cancel", h.CancelMove)
		r.Post("/moves/{id}/reset", h.ResetMove)
		r.Post("/moves/{id}/reverse", h.ReverseMove)
		r.Post("/moves/{id}/lines", h.AddMoveLine)
		r.Put("/lines/{id}", h.EditMoveLine)
		r.Delete("/lines/{id}", h.RemoveMoveLine)
		r.Post("/lines/{id}/break", h.BreakReconciliation)

		r.Post("/payments", h.CreatePayment)
		r.Get("/payments/{id}", h.GetPayment)
		r.Put("/payments/{id}", h.UpdatePayment)
		r.Post("/payments/{id}/post", h.PostPayment)
		r.Post("/payments/{id}/cancel", h.CancelPayment)
		r.Get("/partners/{id}/payments", h.ListPartnerPayments)

		r.Post("/reconcile", h.Reconcile)
		r.Post("/reconcile/partial", h.ReconcilePartial)

		r.Post("/statements", h.IngestStatement)
		r.Get("/statements/{id}", h.GetStatement)
		r.Delete("/statements/{id}", h.DeleteStatement)
		r.Post("/statements/{id}/auto-process", h.AutoProcessStatement)
		r.Get("/statement-lines/{id}/propose", h.ProposeMatch)
		r.Post("/statement-lines/{id}/accept", h.AcceptMatch)

		r.Post("/models", h.CreateModel)
		r.Put("/models/{id}", h.UpdateModel)
		r.Delete("/models/{id}", h.DeleteModel)

		r.Post("/rates", h.SetRate)
	})
}

func (h *LedgerRestHandler) Start(addr string) {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	h.registerRoutes(r)

	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	log.Printf("Ledger REST server listening on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("REST server failed: %v", err)
	}
}
