package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/pledgeLedger/pkg/engine"
	"github.com/mcclellann/pledgeLedger/pkg/lock"
	"github.com/mcclellann/pledgeLedger/pkg/models"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/mcclellann/pledgeLedger/pkg/store"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps ledger errors onto status codes. Anything unexpected is
// logged and reported as 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrLoanNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, store.ErrConcurrentModification),
		errors.Is(err, lock.ErrNotAcquired):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeMessage(w, status, err.Error())
}

// decode reads and validates a JSON body into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeMessage(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// asOf reads the as_of query parameter, defaulting to today.
func (s *Server) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return money.StartOfDay(s.now()), true
	}
	t, err := money.ParseDate(raw)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return time.Time{}, false
	}
	return t, true
}

func loanFilter(r *http.Request) store.LoanFilter {
	q := r.URL.Query()
	filter := store.LoanFilter{PartyKey: q.Get("party_key")}
	for _, st := range q["status"] {
		filter.Statuses = append(filter.Statuses, models.LoanStatus(st))
	}
	return filter
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// collateral loans
// ---------------------------------------------------------------------------

func (s *Server) createCollateralLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createCollateralLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.CreateCollateralLoan(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listCollateralLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListCollateralLoans(r.Context(), loanFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.CollateralLoan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getCollateralLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.ledger.GetCollateralLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) collateralPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.ledger.RecordCollateralPayment(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) returnItemsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req returnRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	settlement, err := s.ledger.ReturnItems(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, returnResponse{
		Entry:       settlement.Entry,
		GrossReturn: settlement.GrossReturn,
		NetReturn:   settlement.NetReturn,
		Items:       settlement.Items,
	})
}

func (s *Server) cancelCollateralEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.ledger.CancelCollateralEntry(r.Context(), id, entryID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) collateralSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	snap, err := s.ledger.CollateralSnapshot(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ---------------------------------------------------------------------------
// unsecured loans
// ---------------------------------------------------------------------------

func (s *Server) createUnsecuredLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createUnsecuredLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.CreateUnsecuredLoan(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listUnsecuredLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.ListUnsecuredLoans(r.Context(), loanFilter(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.UnsecuredLoan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) getUnsecuredLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	loan, err := s.ledger.GetUnsecuredLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) unsecuredPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entry, err := s.ledger.RecordUnsecuredPayment(r.Context(), id, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) cancelUnsecuredEntryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.ledger.CancelUnsecuredEntry(r.Context(), id, entryID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) unsecuredSnapshotHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	snap, err := s.ledger.UnsecuredSnapshot(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ---------------------------------------------------------------------------
// cross-kind views
// ---------------------------------------------------------------------------

func (s *Server) transactionsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	txs, err := s.ledger.Transactions(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) remindersHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	snaps, err := s.ledger.Reminders(r.Context(), asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}
