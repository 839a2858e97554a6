package chat

import (
	"context"
	"testing"

	"hybrid-regime-engine/config"
)

func TestHandleRejectsWrongSecret(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "correct"}, 1000)
	if _, err := d.Handle(context.Background(), "wrong", "list"); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHandleRejectsWhenDisabled(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: false, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "list"); err == nil {
		t.Fatal("expected error when chat disabled")
	}
}

func TestHandleRejectsUnknownCommand(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "nonsense"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestHandleRejectsEmptyCommand(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "   "); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestAddRequiresExactlyOneArg(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "add"); err == nil {
		t.Fatal("expected usage error for add with no symbol")
	}
	if _, err := d.Handle(context.Background(), "s", "add BTCUSDT ETHUSDT"); err == nil {
		t.Fatal("expected usage error for add with too many args")
	}
}

func TestForceBuyRequiresSymbol(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "force_buy"); err == nil {
		t.Fatal("expected usage error for force_buy with no symbol")
	}
}

func TestTradesRejectsNonNumericLimit(t *testing.T) {
	d := New(nil, nil, nil, config.ChatConfig{Enabled: true, SharedSecret: "s"}, 1000)
	if _, err := d.Handle(context.Background(), "s", "trades not-a-number"); err == nil {
		t.Fatal("expected usage error for non-numeric trades limit")
	}
}
