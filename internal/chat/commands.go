// Package chat implements the command interface of spec §6: a
// transport-agnostic dispatcher that a Telegram/Discord/webhook
// adapter can hand raw text to, parsing/queuing side effects are kept
// out of the transport layer. Grounded on telegram_handlers.py and
// telegram_paper_trading.py's command set and the precondition checks
// they enforce (`reset` requires the engine stopped, `force_buy`
// requires it running and the symbol not already held), adapted from
// a single shared-bot-token model to single-operator shared-secret
// auth matching internal/auth's single-owner posture.
package chat

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strconv"
	"strings"
	"time"

	"hybrid-regime-engine/config"
	"hybrid-regime-engine/internal/ledger"
	"hybrid-regime-engine/internal/riskguard"
	"hybrid-regime-engine/internal/scheduler"
)

// ErrUnauthorized is returned when the caller's secret does not match
// the configured shared secret.
var ErrUnauthorized = fmt.Errorf("chat: unauthorized")

// Dispatcher parses and executes chat commands against the running
// engine. One Dispatcher serves every transport the operator wires up
// (spec §6 names no specific transport).
type Dispatcher struct {
	repo  *ledger.Repository
	sched *scheduler.Scheduler
	guard *riskguard.Guard
	cfg   config.ChatConfig

	initialBalance float64
}

// New builds a Dispatcher. initialBalance seeds the `reset` command's
// restored cash balance (config.SchedulerConfig.InitialBalanceUSD).
func New(repo *ledger.Repository, sched *scheduler.Scheduler, guard *riskguard.Guard, cfg config.ChatConfig, initialBalance float64) *Dispatcher {
	return &Dispatcher{repo: repo, sched: sched, guard: guard, cfg: cfg, initialBalance: initialBalance}
}

// Handle authenticates secret against the configured shared secret,
// then parses and executes line as a single command, returning the
// reply text a transport adapter should send back to the operator.
func (d *Dispatcher) Handle(ctx context.Context, secret, line string) (string, error) {
	if !d.cfg.Enabled {
		return "", fmt.Errorf("chat: disabled")
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(d.cfg.SharedSecret)) != 1 {
		return "", ErrUnauthorized
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("chat: empty command")
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "add":
		return d.add(ctx, args)
	case "remove":
		return d.remove(ctx, args)
	case "list":
		return d.list(ctx)
	case "status":
		return d.status(ctx)
	case "balance":
		return d.balance(ctx)
	case "trades":
		return d.trades(ctx, args)
	case "start":
		return d.start(ctx)
	case "stop":
		return d.stop(ctx)
	case "pause":
		return d.pause(ctx)
	case "resume":
		return d.resume(ctx)
	case "reset":
		return d.reset(ctx)
	case "force_buy":
		return d.forceBuy(ctx, args)
	case "signal_stats":
		return d.signalStats(ctx, args)
	case "signal_analysis":
		return d.signalAnalysis(ctx, args)
	default:
		return "", fmt.Errorf("chat: unknown command %q", name)
	}
}

func (d *Dispatcher) add(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: add <SYMBOL>")
	}
	symbol := strings.ToUpper(args[0])
	if err := d.repo.AddSymbol(ctx, symbol); err != nil {
		return "", fmt.Errorf("add %s: %w", symbol, err)
	}
	return fmt.Sprintf("tracking %s", symbol), nil
}

func (d *Dispatcher) remove(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: remove <SYMBOL>")
	}
	symbol := strings.ToUpper(args[0])
	if err := d.sched.CloseAndUntrack(ctx, symbol); err != nil {
		return "", fmt.Errorf("remove %s: %w", symbol, err)
	}
	return fmt.Sprintf("stopped tracking %s (any open position closed at market)", symbol), nil
}

func (d *Dispatcher) list(ctx context.Context) (string, error) {
	symbols, err := d.repo.GetTrackedSymbols(ctx)
	if err != nil {
		return "", fmt.Errorf("list: %w", err)
	}
	if len(symbols) == 0 {
		return "no symbols tracked", nil
	}
	return strings.Join(symbols, ", "), nil
}

func (d *Dispatcher) status(ctx context.Context) (string, error) {
	portfolio, err := d.repo.GetPortfolioState(ctx)
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	openCount, err := d.repo.GetOpenPositionCount(ctx)
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}
	guardStatus := d.guard.Status()

	state := "stopped"
	if d.sched.IsRunning() {
		state = "running"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "engine: %s\n", state)
	fmt.Fprintf(&sb, "open positions: %d\n", openCount)
	fmt.Fprintf(&sb, "cash: $%.2f\n", portfolio.BalanceCash)
	fmt.Fprintf(&sb, "realized pnl: $%.2f (%d win / %d loss)\n", portfolio.RealizedPnLCumulative, portfolio.WinCount, portfolio.LossCount)
	fmt.Fprintf(&sb, "risk guard: %s", guardStatus.State)
	if guardStatus.State == riskguard.StateOpen {
		fmt.Fprintf(&sb, " (%s)", guardStatus.TripReason)
	}
	if guardStatus.ManualPause {
		sb.WriteString(" [manually paused]")
	}
	return sb.String(), nil
}

func (d *Dispatcher) balance(ctx context.Context) (string, error) {
	portfolio, err := d.repo.GetPortfolioState(ctx)
	if err != nil {
		return "", fmt.Errorf("balance: %w", err)
	}
	return fmt.Sprintf("cash: $%.2f | realized pnl: $%.2f | peak equity: $%.2f",
		portfolio.BalanceCash, portfolio.RealizedPnLCumulative, portfolio.PeakEquity), nil
}

func (d *Dispatcher) trades(ctx context.Context, args []string) (string, error) {
	limit := 10
	if len(args) == 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return "", fmt.Errorf("usage: trades [N]")
		}
		limit = n
	}
	trades, err := d.repo.GetClosedTrades(ctx, "", limit, nil)
	if err != nil {
		return "", fmt.Errorf("trades: %w", err)
	}
	if len(trades) == 0 {
		return "no closed trades yet", nil
	}
	var sb strings.Builder
	for _, t := range trades {
		fmt.Fprintf(&sb, "%s %s %s @ %.4f qty %.6f pnl $%.2f (%s)\n",
			t.At.Format(time.RFC3339), t.Symbol, t.Side, t.Price, t.Qty, t.RealizedPnL, t.Reason)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (d *Dispatcher) start(ctx context.Context) (string, error) {
	d.sched.Start()
	return "engine started", nil
}

func (d *Dispatcher) stop(ctx context.Context) (string, error) {
	d.sched.Stop()
	return "engine stopped", nil
}

func (d *Dispatcher) pause(ctx context.Context) (string, error) {
	d.guard.Pause()
	return "new entries paused (open positions still managed)", nil
}

func (d *Dispatcher) resume(ctx context.Context) (string, error) {
	d.guard.Resume()
	return "entries resumed", nil
}

// reset implements paper_reset's precondition and effect: refuse
// while the engine is running, else wipe history and restore the
// starting balance.
func (d *Dispatcher) reset(ctx context.Context) (string, error) {
	if d.sched.IsRunning() {
		return "", fmt.Errorf("stop the engine before resetting")
	}
	before, err := d.repo.GetPortfolioState(ctx)
	if err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	if err := d.repo.ResetPortfolio(ctx, d.initialBalance); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	return fmt.Sprintf("portfolio reset: $%.2f -> $%.2f", before.BalanceCash, d.initialBalance), nil
}

// forceBuy implements paper_force_buy: requires the engine running,
// bypasses the vote gate, and opens at a mid-strength size.
func (d *Dispatcher) forceBuy(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: force_buy <SYMBOL>")
	}
	if !d.sched.IsRunning() {
		return "", fmt.Errorf("start the engine before forcing an entry")
	}
	symbol := strings.ToUpper(args[0])
	if err := d.sched.ForceBuy(ctx, symbol); err != nil {
		return "", fmt.Errorf("force_buy %s: %w", symbol, err)
	}
	return fmt.Sprintf("forced entry opened for %s", symbol), nil
}

// signalStats reports the win rate and vote-count distribution of
// recent signal records for a symbol (or all symbols), supplementing
// the spec's signal diagnostics with the original's aggregate view.
func (d *Dispatcher) signalStats(ctx context.Context, args []string) (string, error) {
	symbol := ""
	if len(args) == 1 {
		symbol = strings.ToUpper(args[0])
	}
	records, err := d.repo.GetSignals(ctx, symbol, 200)
	if err != nil {
		return "", fmt.Errorf("signal_stats: %w", err)
	}
	if len(records) == 0 {
		return "no signal records yet", nil
	}
	counts := map[string]int{}
	blocked := 0
	for _, r := range records {
		counts[r.Kind]++
		if r.BlockReason != "" {
			blocked++
		}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "signals considered: %d (blocked: %d)\n", len(records), blocked)
	for kind, n := range counts {
		fmt.Fprintf(&sb, "%s: %d\n", kind, n)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// signalAnalysis lists the most recent signal records with their top
// vote reasons, for manual inspection of why the generator decided
// what it decided.
func (d *Dispatcher) signalAnalysis(ctx context.Context, args []string) (string, error) {
	symbol := ""
	limit := 10
	for _, a := range args {
		if n, err := strconv.Atoi(a); err == nil && n > 0 {
			limit = n
			continue
		}
		symbol = strings.ToUpper(a)
	}
	records, err := d.repo.GetSignals(ctx, symbol, limit)
	if err != nil {
		return "", fmt.Errorf("signal_analysis: %w", err)
	}
	if len(records) == 0 {
		return "no signal records yet", nil
	}
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "%s %s %s delta=%d mode=%s reasons=%s\n",
			r.At.Format(time.RFC3339), r.Symbol, r.Kind, r.VotesDelta, r.Mode, strings.Join(r.TopReasons, "; "))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
