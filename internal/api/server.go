package api

import (
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/state"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "api")

// Scanner is the scheduler control the status surface may poke.
type Scanner interface {
	Trigger() bool
	Running() bool
}

// PositionCloser closes open positions at market.
type PositionCloser interface {
	Close(ctx context.Context, symbol, reason string) error
	CloseAll(ctx context.Context, reason string) (int, []error)
}

// Server is the read-only status surface plus the scan trigger and the
// manual closes. Reads are served from state snapshots and the store; none
// of them wait on the exchange.
type Server struct {
	state   *state.State
	repos   *repositories.Repositories
	scanner Scanner
	closer  PositionCloser
	mode    string

	router       *mux.Router
	upgrader     websocket.Upgrader
	pushInterval time.Duration
}

func NewServer(st *state.State, repos *repositories.Repositories, scanner Scanner, closer PositionCloser, mode string) *Server {
	s := &Server{
		state:        st,
		repos:        repos,
		scanner:      scanner,
		closer:       closer,
		mode:         mode,
		router:       mux.NewRouter().StrictSlash(true),
		pushInterval: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Methods("GET").Path("/health").HandlerFunc(s.handleHealth)
	s.router.Methods("GET").Path("/scan").HandlerFunc(s.handleReport)
	s.router.Methods("POST").Path("/scan").HandlerFunc(s.handleTrigger)
	s.router.Methods("GET").Path("/symbols").HandlerFunc(s.handleSymbols)
	s.router.Methods("GET").Path("/positions").HandlerFunc(s.handlePositions)
	s.router.Methods("POST").Path("/positions/close-all").HandlerFunc(s.handleCloseAll)
	s.router.Methods("POST").Path("/positions/{symbol}/close").HandlerFunc(s.handleClosePosition)
	s.router.Methods("GET").Path("/trades").HandlerFunc(s.handleTrades)
	s.router.Methods("GET").Path("/account").HandlerFunc(s.handleAccount)
	s.router.Methods("GET").Path("/activity").HandlerFunc(s.handleActivity)
	s.router.Methods("GET").Path("/ws").HandlerFunc(s.handleWebsocket)
	s.router.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
