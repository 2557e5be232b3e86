package session

import (
	"context"
	"testing"

	"OpenTrade-Bot/internal/ledger"
)

func TestGetReturnsFreshIdleSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.Step != StepIdle {
		t.Fatalf("expected idle step, got %s", sess.Step)
	}
	if sess.UserID != "u1" {
		t.Fatalf("expected user id to be set, got %q", sess.UserID)
	}
}

func TestPutThenGetIsolatesCaller(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := NewSession("u1")
	sess.Step = StepBuyAwaitingAmount
	sess.Buy = &BuyData{TokenSymbol: "USDC"}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	// 调用方修改自己的副本不应影响存储内容。
	sess.Step = StepIdle

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != StepBuyAwaitingAmount {
		t.Fatalf("expected stored step, got %s", got.Step)
	}
	if got.Buy == nil || got.Buy.TokenSymbol != "USDC" {
		t.Fatalf("expected stored flow data, got %+v", got.Buy)
	}
}

func TestGetReturnsDeepCopyOfFlowData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := NewSession("u1")
	sess.Step = StepBuyAwaitingConfirm
	sess.Buy = &BuyData{TokenSymbol: "USDC", AmountIn: "1000000"}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	// 改写取出副本的流程数据不应穿透到存储里。
	first, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.Buy.AmountIn = "1"

	second, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.Buy == nil || second.Buy.AmountIn != "1000000" {
		t.Fatalf("stored flow data mutated through returned copy: %+v", second.Buy)
	}
}

func TestUnknownStepNormalizesToIdle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := NewSession("u1")
	sess.Step = Step("time_travel")
	sess.Buy = &BuyData{TokenSymbol: "USDC"}
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != StepIdle {
		t.Fatalf("unknown step must read back as idle, got %s", got.Step)
	}
	if got.Buy != nil {
		t.Fatalf("flow data must be dropped with the unknown step")
	}
}

func TestClearRemovesSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sess := NewSession("u1")
	sess.Step = StepImportingKey
	if err := store.Put(ctx, sess); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Clear(ctx, "u1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	got, err := store.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Step != StepIdle {
		t.Fatalf("expected fresh idle session after clear, got %s", got.Step)
	}
}

func TestResetFlowKeepsPrefs(t *testing.T) {
	sess := NewSession("u1")
	sess.Step = StepSellAwaitingConfirm
	sess.Sell = &SellData{TokenSymbol: "DAI"}
	prefs := ledger.DefaultSettings("u1")
	sess.Prefs = &prefs

	sess.ResetFlow()

	if sess.Step != StepIdle || sess.Sell != nil {
		t.Fatalf("reset must clear flow state: %+v", sess)
	}
	if sess.Prefs == nil {
		t.Fatalf("reset must keep cached prefs")
	}
}
