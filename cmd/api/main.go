package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/pledgeLedger/pkg/cache"
	"github.com/mcclellann/pledgeLedger/pkg/config"
	"github.com/mcclellann/pledgeLedger/pkg/ledger"
	"github.com/mcclellann/pledgeLedger/pkg/lock"
	"github.com/mcclellann/pledgeLedger/pkg/logging"
	"github.com/mcclellann/pledgeLedger/pkg/money"
	"github.com/mcclellann/pledgeLedger/pkg/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	cfg      *config.Config
	logger   *zap.Logger
	validate *validator.Validate
	rdb      *redis.Client // nil disables idempotency and distributed locking
	now      func() time.Time
}

func NewServer(s store.Storage, cfg *config.Config, logger *zap.Logger, rdb *redis.Client) *Server {
	opts := []ledger.Option{ledger.WithLogger(logger)}
	if rdb != nil {
		opts = append(opts, ledger.WithLocker(lock.NewRedisLocker(rdb, cfg.LockTTL)))
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Server{
		ledger:   ledger.NewLedger(s, opts...),
		cfg:      cfg,
		logger:   logger,
		validate: v,
		rdb:      rdb,
		now:      time.Now,
	}
}

// Router wires every route. CORS wraps the router so preflight requests are
// answered before route matching.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(requestLogger(s.logger))
	if s.rdb != nil {
		router.Use(idempotency(s.rdb, s.cfg.IdempotencyTTL, s.logger))
	}

	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	router.HandleFunc("/collateral-loans", s.listCollateralLoansHandler).Methods("GET")
	router.HandleFunc("/collateral-loans", s.createCollateralLoanHandler).Methods("POST")
	router.HandleFunc("/collateral-loans/{id}", s.getCollateralLoanHandler).Methods("GET")
	router.HandleFunc("/collateral-loans/{id}/payments", s.collateralPaymentHandler).Methods("POST")
	router.HandleFunc("/collateral-loans/{id}/returns", s.returnItemsHandler).Methods("POST")
	router.HandleFunc("/collateral-loans/{id}/entries/{entryID}/cancel", s.cancelCollateralEntryHandler).Methods("POST")
	router.HandleFunc("/collateral-loans/{id}/snapshot", s.collateralSnapshotHandler).Methods("GET")

	router.HandleFunc("/unsecured-loans", s.listUnsecuredLoansHandler).Methods("GET")
	router.HandleFunc("/unsecured-loans", s.createUnsecuredLoanHandler).Methods("POST")
	router.HandleFunc("/unsecured-loans/{id}", s.getUnsecuredLoanHandler).Methods("GET")
	router.HandleFunc("/unsecured-loans/{id}/payments", s.unsecuredPaymentHandler).Methods("POST")
	router.HandleFunc("/unsecured-loans/{id}/entries/{entryID}/cancel", s.cancelUnsecuredEntryHandler).Methods("POST")
	router.HandleFunc("/unsecured-loans/{id}/snapshot", s.unsecuredSnapshotHandler).Methods("GET")

	router.HandleFunc("/loans/{id}/transactions", s.transactionsHandler).Methods("GET")
	router.HandleFunc("/reminders", s.remindersHandler).Methods("GET")

	return corsHandler(s.cfg.CORSAllowedOrigins)(router)
}

// runAccrual brings open pledge loans current once at startup and then on
// every tick until ctx is done.
func (s *Server) runAccrual(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		asOf := money.StartOfDay(s.now())
		s.logger.Info("running scheduled accrual", zap.Time("as_of", asOf))
		if _, err := s.ledger.AccrueActiveLoans(ctx, asOf); err != nil {
			s.logger.Error("scheduled accrual failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func main() {
	cfg := config.Load()
	flag.StringVar(&cfg.AppPort, "port", cfg.AppPort, "HTTP listen port")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize SQLite store", zap.Error(err))
	}
	defer sqliteStore.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb, err = cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		logger.Info("redis connected; distributed locks and idempotency enabled", zap.String("addr", cfg.RedisAddr))
	}

	server := NewServer(sqliteStore, cfg, logger, rdb)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go server.runAccrual(ctx, cfg.AccrualInterval)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
