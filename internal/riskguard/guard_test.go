package riskguard

import "testing"

func TestAllowBuyDefaultOpen(t *testing.T) {
	g := New(DefaultConfig(), 1000)
	ok, reason := g.AllowBuy()
	if !ok || reason != "" {
		t.Fatalf("expected trading allowed initially, got ok=%v reason=%q", ok, reason)
	}
}

func TestConsecutiveLossesTripsGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	cfg.MaxDailyDrawdownPct = 1.0 // avoid tripping on drawdown first
	g := New(cfg, 1000)

	for i := 0; i < 2; i++ {
		g.RecordTrade(-10)
	}
	if ok, _ := g.AllowBuy(); !ok {
		t.Fatalf("expected still allowed after 2 losses")
	}
	g.RecordTrade(-10)
	ok, reason := g.AllowBuy()
	if ok {
		t.Fatalf("expected guard tripped after 3 consecutive losses")
	}
	if reason == "" {
		t.Fatalf("expected a block reason")
	}
}

func TestWinResetsConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 2
	g := New(cfg, 1000)
	g.RecordTrade(-10)
	g.RecordTrade(50)
	g.RecordTrade(-10)
	if ok, _ := g.AllowBuy(); !ok {
		t.Fatalf("expected win to reset consecutive-loss streak")
	}
}

func TestDailyDrawdownTripsGuard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyDrawdownPct = 0.05
	cfg.MaxConsecutiveLosses = 100
	g := New(cfg, 1000)
	g.RecordTrade(-60)
	if ok, _ := g.AllowBuy(); ok {
		t.Fatalf("expected guard tripped after exceeding 5%% daily drawdown")
	}
}

func TestPauseResume(t *testing.T) {
	g := New(DefaultConfig(), 1000)
	g.Pause()
	if ok, reason := g.AllowBuy(); ok || reason != "trading_paused" {
		t.Fatalf("expected paused, got ok=%v reason=%q", ok, reason)
	}
	g.Resume()
	if ok, _ := g.AllowBuy(); !ok {
		t.Fatalf("expected resumed trading to be allowed")
	}
}

func TestManualResumeClearsLossTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 1
	g := New(cfg, 1000)
	g.RecordTrade(-1)
	if ok, _ := g.AllowBuy(); ok {
		t.Fatalf("expected tripped")
	}
	g.Resume()
	if ok, _ := g.AllowBuy(); !ok {
		t.Fatalf("expected resume to clear the trip")
	}
}
