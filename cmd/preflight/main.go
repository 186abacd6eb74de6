package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"ladderbot/internal/config"
	"ladderbot/internal/exchange/binance"
	"ladderbot/internal/ledger"
)

type checkStatus string

const (
	statusPass checkStatus = "PASS"
	statusFail checkStatus = "FAIL"
)

type checkResult struct {
	Name       string      `json:"name"`
	Status     checkStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Detail     string      `json:"detail,omitempty"`
	Error      string      `json:"error,omitempty"`
}

type report struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Mode       config.Mode   `json:"mode"`
	Symbol     string        `json:"symbol"`
	Checks     []checkResult `json:"checks"`
}

func main() {
	var (
		configPath   string
		timeoutSec   int
		streamWait   int
		outJSONPath  string
		allowLiveRun bool
	)
	flag.StringVar(&configPath, "config", "config/config.yaml", "config yaml path")
	flag.IntVar(&timeoutSec, "timeout-sec", 60, "total timeout seconds")
	flag.IntVar(&streamWait, "stream-wait-sec", 10, "wait seconds for the ticker stream check")
	flag.StringVar(&outJSONPath, "out-json", "", "optional output report path")
	flag.BoolVar(&allowLiveRun, "allow-live", false, "allow running checks when mode=live")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Mode == config.ModeLive && !allowLiveRun {
		fatal("mode=live blocked by default; set -allow-live=true to continue")
	}
	if timeoutSec < 15 {
		timeoutSec = 15
	}
	if streamWait < 3 {
		streamWait = 3
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()

	client, err := binance.NewClient(cfg.Exchange)
	if err != nil {
		fatal(err.Error())
	}

	r := report{
		StartedAt: time.Now().UTC(),
		Mode:      cfg.Mode,
		Symbol:    cfg.Symbol,
	}
	run := func(name string, fn func() (string, error)) {
		start := time.Now()
		detail, err := fn()
		cr := checkResult{
			Name:       name,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
		} else {
			cr.Status = statusPass
		}
		r.Checks = append(r.Checks, cr)
		if cr.Status == statusPass {
			fmt.Printf("[PASS] %s (%dms)", name, cr.DurationMs)
			if cr.Detail != "" {
				fmt.Printf(" - %s", cr.Detail)
			}
			fmt.Println()
		} else {
			fmt.Printf("[FAIL] %s (%dms) - %s\n", name, cr.DurationMs, cr.Error)
		}
	}

	var lastPrice decimal.Decimal
	run("rest_ticker_price", func() (string, error) {
		price, err := client.TickerPrice(ctx, cfg.Symbol)
		if err != nil {
			return "", err
		}
		if price.Cmp(decimal.Zero) <= 0 {
			return "", errors.New("exchange returned a non-positive price")
		}
		lastPrice = price
		return fmt.Sprintf("price=%s", price.String()), nil
	})

	run("signed_account_access", func() (string, error) {
		free, err := client.FreeBalance(ctx, cfg.QuoteAsset)
		if err != nil {
			return "", err
		}
		floor := cfg.Rules.MinNotional.Mul(decimal.NewFromInt(int64(len(cfg.Ladder.Offsets))))
		detail := fmt.Sprintf("asset=%s free=%s ladder_floor=%s", cfg.QuoteAsset, free.String(), floor.String())
		if decimal.Min(free, cfg.Ladder.Budget.Decimal).Cmp(floor) < 0 {
			detail += " (below ladder floor, initial ladder would be skipped)"
		}
		return detail, nil
	})

	run("state_dir_and_lock", func() (string, error) {
		stateDir := filepath.Join(cfg.State.Dir, string(cfg.Mode), cfg.Symbol, cfg.InstanceID)
		led, err := ledger.New(stateDir)
		if err != nil {
			return "", err
		}
		records, err := led.ListOpen()
		if err != nil {
			return "", err
		}
		lock, err := ledger.AcquireInstanceLockWithOptions(stateDir, ledger.LockOptions{
			TakeoverEnabled: false,
			Owner: ledger.LockOwner{
				Mode:       string(cfg.Mode),
				Symbol:     cfg.Symbol,
				InstanceID: cfg.InstanceID,
			},
		})
		if err != nil {
			return "", err
		}
		if err := lock.Release(); err != nil {
			return "", err
		}
		return fmt.Sprintf("dir=%s tracked_orders=%d", stateDir, len(records)), nil
	})

	run("ticker_stream", func() (string, error) {
		streamCtx, streamCancel := context.WithTimeout(ctx, time.Duration(streamWait)*time.Second)
		defer streamCancel()
		stream := binance.NewTickerStream(cfg.Exchange.WSBaseURL, cfg.Symbol, time.Minute)
		go stream.Run(streamCtx)
		for {
			select {
			case <-streamCtx.Done():
				return "", fmt.Errorf("no ticker event within %ds", streamWait)
			case <-time.After(200 * time.Millisecond):
			}
			if price, ok := stream.LastPrice(); ok {
				detail := fmt.Sprintf("stream_price=%s", price.String())
				if lastPrice.Cmp(decimal.Zero) > 0 {
					detail += fmt.Sprintf(" rest_price=%s", lastPrice.String())
				}
				return detail, nil
			}
		}
	})

	r.FinishedAt = time.Now().UTC()
	printSummary(r)

	if outJSONPath != "" {
		if err := writeReport(outJSONPath, r); err != nil {
			fatal(err.Error())
		}
		fmt.Printf("report written: %s\n", outJSONPath)
	}
	for _, c := range r.Checks {
		if c.Status == statusFail {
			os.Exit(1)
		}
	}
}

func printSummary(r report) {
	pass := 0
	fail := 0
	for _, c := range r.Checks {
		if c.Status == statusPass {
			pass++
		} else {
			fail++
		}
	}
	fmt.Printf("\nsummary mode=%s symbol=%s pass=%d fail=%d duration=%s\n",
		r.Mode,
		r.Symbol,
		pass,
		fail,
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
	)
}

func writeReport(path string, r report) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
