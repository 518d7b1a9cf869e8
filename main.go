package main

import (
	"FlipTradeBot/config"
	"FlipTradeBot/internal/api"
	"FlipTradeBot/internal/handlers"
	"FlipTradeBot/internal/logging"
	"FlipTradeBot/internal/models"
	"FlipTradeBot/internal/operations/backtest"
	"FlipTradeBot/internal/operations/binance"
	"FlipTradeBot/internal/operations/position"
	"FlipTradeBot/internal/operations/price"
	"FlipTradeBot/internal/operations/reconcile"
	"FlipTradeBot/internal/repositories"
	"FlipTradeBot/internal/services/strategy"
	"FlipTradeBot/internal/services/trading"
	"FlipTradeBot/internal/state"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	backtestSymbol := flag.String("backtest", "", "replay stored candles for SYMBOL and exit")
	backtestDays := flag.Int("days", 30, "backtest window in days")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		logrus.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup database
	db, err := repositories.Open(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	repos := repositories.New(db)

	gate := binance.NewGate(cfg.Exchange.MinCallInterval)
	client := binance.NewClient(cfg.Exchange, gate)

	if *backtestSymbol != "" {
		if err := runBacktest(ctx, cfg, repos, client, *backtestSymbol, *backtestDays); err != nil {
			logrus.Fatalf("Backtest failed: %v", err)
		}
		return
	}

	if err := run(ctx, cfg, repos, client); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Fatalf("Engine stopped: %v", err)
	}
	logrus.Info("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, repos *repositories.Repositories, client *binance.Client) error {
	st := state.New(cfg.Scheduler.Interval, cfg.Scheduler.HealthMultiple)

	ledger := trading.NewLedger(cfg.Trading)
	account, err := ledger.Ensure(repos)
	if err != nil {
		return err
	}

	var (
		exec     position.Executor = position.PaperExecutor{}
		exchange reconcile.PositionLister
	)
	if cfg.Trading.IsLive() {
		exec = position.NewLiveExecutor(client)
		exchange = client
	}

	filter, err := strategy.NewStrategyManager(cfg.Trading.Strategy)
	if err != nil {
		return err
	}
	manager := position.NewManager(cfg.Trading, st, repos, exec, ledger)

	result, err := reconcile.New(cfg.Trading, repos, st, exchange).Run(ctx)
	if err != nil {
		return fmt.Errorf("startup reconciliation: %w", err)
	}

	store := price.NewCandleStore(repos.Candles, client, cfg.Scheduler.CandleHistory, cfg.Scheduler.CandleRetention)
	prices := handlers.NewPriceHandler(client, manager, st)
	scan := handlers.NewStrategyHandler(cfg, st, repos, store,
		handlers.NewUniverse(client, cfg.Trading.Symbols, cfg.Trading.TopSymbols),
		prices,
		handlers.NewPositionHandler(cfg.Trading, store, filter, manager, st),
	)
	scheduler := handlers.NewScheduler(scan, st, cfg.Scheduler.Interval, cfg.Scheduler.Grace)

	if addr := cfg.Status.Addr; addr != "" {
		server := api.NewServer(st, repos, scheduler, prices, cfg.Trading.Mode)
		go func() {
			if err := server.ListenAndServe(ctx, addr); err != nil {
				logrus.WithError(err).Error("status server stopped")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"mode":      cfg.Trading.Mode,
		"strategy":  filter.Name(),
		"balance":   account.Balance,
		"positions": result.Loaded - result.Closed + result.Adopted,
		"interval":  cfg.Scheduler.Interval,
	}).Info("FlipTradeBot started")

	return scheduler.Run(ctx)
}

func runBacktest(ctx context.Context, cfg *config.Config, repos *repositories.Repositories, client *binance.Client, symbol string, days int) error {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)
	bcfg := backtest.NewConfig(cfg, symbol, start, end)

	// top up the stored history, then page back so the whole window is covered
	dur, _ := models.TimeFrameDuration(cfg.Trading.ATRTimeframe)
	need := cfg.Scheduler.CandleHistory
	if dur > 0 {
		need += int(end.Sub(start) / dur)
	}
	store := price.NewCandleStore(repos.Candles, client, need, need)
	for _, tf := range []string{cfg.Trading.TrendTimeframe, cfg.Trading.ATRTimeframe} {
		if _, err := store.Refresh(ctx, symbol, tf); err != nil {
			return err
		}
		tfDur, _ := models.TimeFrameDuration(tf)
		warmup := time.Duration(cfg.Trading.ATRPeriod+2) * tfDur
		if _, err := store.Backfill(ctx, symbol, tf, start.Add(-warmup)); err != nil {
			return err
		}
	}

	history, err := backtest.LoadHistory(repos.Candles, bcfg, need)
	if err != nil {
		return err
	}
	results, err := backtest.NewEngine(bcfg, history).RunBacktest(ctx)
	if err != nil {
		return err
	}

	// Print results
	fmt.Println("\n=== Backtest Results ===")
	fmt.Printf("Symbol: %s (%d steps, %d flips, %d symbol errors)\n", results.Symbol, results.Steps, results.Flips, results.SymbolErrors)
	fmt.Printf("Total Trades: %d\n", results.TotalTrades)
	fmt.Printf("Winning Trades: %d (%.2f%%)\n", results.WinningTrades, results.WinRate*100)
	fmt.Printf("Average PnL: $%.2f\n", results.AveragePnL)
	fmt.Printf("Max Drawdown: %.2f%%\n", results.MaxDrawdown*100)
	fmt.Printf("Final Balance: $%.2f (start $%.2f)\n", results.FinalBalance, results.StartBalance)
	fmt.Printf("Sharpe Ratio: %.2f\n", results.SharpeRatio)
	return nil
}
