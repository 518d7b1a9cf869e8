package api

import (
	"FlipTradeBot/internal/models"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

const defaultLimit = 100

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultLimit
	}
	return n
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	hb := s.state.Heartbeat()
	status := http.StatusOK
	if !hb.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"heartbeat": hb,
		"mode":      s.mode,
		"scanning":  s.scanner.Running(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Report())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.scanner.Trigger() {
		writeJSON(w, http.StatusConflict, map[string]bool{"accepted": false})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.SymbolStatuses())
}

func (s *Server) positionViews() []models.PositionView {
	positions := s.state.Positions()
	views := make([]models.PositionView, 0, len(positions))
	for _, p := range positions {
		v := models.PositionView{Position: p}
		if price, ok := s.state.Price(p.Symbol); ok {
			v.MarkPrice = price
			v.UnrealizedPnL = p.UnrealizedPnL(price)
			if margin := p.Margin(); margin > 0 {
				v.UnrealizedPct = v.UnrealizedPnL / margin * 100
			}
		}
		views = append(views, v)
	}
	return views
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.positionViews())
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	closed, errs := s.closer.CloseAll(r.Context(), models.ExitEmergency)
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	log.WithField("closed", closed).WithField("failed", len(errs)).Warn("emergency close requested")

	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, map[string]interface{}{"closed": closed, "errors": msgs})
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	if _, ok := s.state.Position(symbol); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no open position for " + symbol})
		return
	}
	if err := s.closer.Close(r.Context(), symbol, models.ExitManual); err != nil {
		log.WithField("symbol", symbol).WithError(err).Error("manual close failed")
		status := http.StatusInternalServerError
		var ee *models.ExecutionError
		var fe *models.FetchError
		if errors.As(err, &ee) || errors.As(err, &fe) {
			status = http.StatusBadGateway
		}
		writeError(w, status, err)
		return
	}
	log.WithField("symbol", symbol).Warn("position closed on request")
	writeJSON(w, http.StatusOK, map[string]string{"closed": symbol})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.repos.Trades.FindRecent(r.URL.Query().Get("symbol"), queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	balance, err := s.repos.Balances.FindByAsset(models.AssetUSDT)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if balance == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no account"})
		return
	}
	txs, err := s.repos.Transactions.FindRecent(models.AssetUSDT, queryLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"balance":      balance,
		"win_rate":     balance.WinRate(),
		"transactions": txs,
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Activity(queryLimit(r)))
}
