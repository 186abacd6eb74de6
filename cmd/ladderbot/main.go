package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ladderbot/internal/alert"
	"ladderbot/internal/config"
	"ladderbot/internal/core"
	"ladderbot/internal/engine"
	"ladderbot/internal/exchange"
	"ladderbot/internal/exchange/binance"
	"ladderbot/internal/guard"
	"ladderbot/internal/ledger"
	"ladderbot/internal/obs"
	"ladderbot/internal/planner"
	"ladderbot/internal/safety"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.Parse()

	// Secrets live in .env during development; a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}

	alerts := buildAlertManager(cfg)
	if alerts != nil {
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := alerts.Close(closeCtx); err != nil {
				fmt.Fprintf(os.Stderr, "close alert manager failed: %v\n", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateDir := filepath.Join(cfg.State.Dir, string(cfg.Mode), cfg.Symbol, cfg.InstanceID)
	led, err := ledger.New(stateDir)
	if err != nil {
		fatal(err.Error())
	}
	lockTakeover := true
	if cfg.State.LockTakeover != nil {
		lockTakeover = *cfg.State.LockTakeover
	}
	instanceLock, err := ledger.AcquireInstanceLockWithOptions(stateDir, ledger.LockOptions{
		TakeoverEnabled: lockTakeover,
		StaleAfter:      time.Duration(cfg.State.LockStaleSec) * time.Second,
		Owner: ledger.LockOwner{
			Mode:       string(cfg.Mode),
			Symbol:     cfg.Symbol,
			InstanceID: cfg.InstanceID,
		},
	})
	if err != nil {
		fatal(err.Error())
	}
	defer func() {
		if relErr := instanceLock.Release(); relErr != nil {
			fmt.Fprintf(os.Stderr, "release instance lock failed: %v\n", relErr)
		}
	}()

	client, err := binance.NewClient(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}
	var gateway exchange.Gateway = client
	if cfg.CircuitBreaker.Enabled {
		gateway, err = safety.NewGateway(client, alerts, safety.Options{
			MaxSubmitFailures: cfg.CircuitBreaker.MaxSubmitFailures,
			MaxQueryFailures:  cfg.CircuitBreaker.MaxQueryFailures,
			Cooldown:          time.Duration(cfg.CircuitBreaker.CooldownSec) * time.Second,
		})
		if err != nil {
			fatal(err.Error())
		}
	}

	tickInterval := time.Duration(cfg.Engine.TickIntervalSec) * time.Second
	fullScanOneIn := *cfg.Engine.FullScanOneIn
	var hint engine.PriceHint
	if fullScanOneIn > 0 {
		stream := binance.NewTickerStream(cfg.Exchange.WSBaseURL, cfg.Symbol, 2*tickInterval)
		go stream.Run(ctx)
		hint = stream
	}

	var metrics *obs.Metrics
	if addr := cfg.Observability.Metrics.ListenAddr; addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = obs.NewMetrics(reg)
		go serveMetrics(addr, reg)
	}

	rules := core.Rules{
		MinQty:      cfg.Rules.MinQty.Decimal,
		MinNotional: cfg.Rules.MinNotional.Decimal,
		PriceTick:   cfg.Rules.PriceTick.Decimal,
		QtyStep:     cfg.Rules.QtyStep.Decimal,
	}
	pl, err := planner.New(gateway, led, alerts, planner.Options{
		Symbol:       cfg.Symbol,
		QuoteAsset:   cfg.QuoteAsset,
		Budget:       cfg.Ladder.Budget.Decimal,
		Offsets:      cfg.Offsets(),
		SafetyMargin: cfg.Ladder.SafetyMargin.Decimal,
		Rules:        rules,
	})
	if err != nil {
		fatal(err.Error())
	}
	eng, err := engine.New(gateway, led, pl, alerts, engine.Options{
		Mode:          string(cfg.Mode),
		Symbol:        cfg.Symbol,
		InstanceID:    cfg.InstanceID,
		Rules:         rules,
		TickInterval:  tickInterval,
		FullScanOneIn: fullScanOneIn,
		Guard:         guard.New(cfg.Ladder.PriceStep.Decimal, cfg.Engine.GuardMaxSteps),
		Metrics:       metrics,
		PriceHint:     hint,
	})
	if err != nil {
		fatal(err.Error())
	}

	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err.Error())
	}
}

func buildAlertManager(cfg config.Config) *alert.Manager {
	var notifiers []alert.Notifier
	if tg := cfg.Observability.Telegram; tg.Enabled {
		notifiers = append(notifiers, alert.NewTelegramNotifier(
			tg.BotToken,
			tg.ChatID,
			tg.APIBaseURL,
			time.Duration(tg.TimeoutSec)*time.Second,
		))
	}
	if em := cfg.Observability.Email; em.Enabled {
		notifiers = append(notifiers, alert.NewEmailNotifier(
			em.SMTPHost,
			em.SMTPPort,
			em.From,
			em.To,
			em.Password,
		))
	}
	return alert.NewManagerWithOptions(string(cfg.Mode), cfg.Symbol, alert.ManagerOptions{
		DropReportInterval: time.Duration(cfg.Observability.Runtime.AlertDropReportSec) * time.Second,
	}, notifiers...)
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Printf("level=INFO event=metrics_listening addr=%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("level=ERROR event=metrics_server_failed reason=%q", err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
