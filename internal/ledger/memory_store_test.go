package ledger

import (
	"context"
	"errors"
	"testing"
)

func sampleRecord() TxRecord {
	return TxRecord{
		Hash:          "0xabc",
		UserID:        "u1",
		WalletAddress: "0x1111111111111111111111111111111111111111",
		FromToken:     "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
		ToToken:       "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		FromAmount:    "1000000000000000000",
		ToAmount:      "2500000000",
		Status:        TxSuccess,
		GasUsed:       21000,
		CreatedAt:     1700000000,
	}
}

func TestRecordTransactionIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	record := sampleRecord()

	if err := store.RecordTransaction(ctx, record); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := store.RecordTransaction(ctx, record); err != nil {
		t.Fatalf("retried identical write must be a no-op: %v", err)
	}

	records, err := store.RecentTransactions(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(records))
	}
}

func TestRecordTransactionRejectsMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.RecordTransaction(ctx, sampleRecord()); err != nil {
		t.Fatalf("first write: %v", err)
	}
	altered := sampleRecord()
	altered.FromAmount = "42"
	err := store.RecordTransaction(ctx, altered)
	if err == nil {
		t.Fatalf("expected mismatching overwrite to be rejected")
	}
	if !errors.Is(err, ErrRecordMismatch) {
		t.Fatalf("expected ErrRecordMismatch, got %v", err)
	}
}

func TestRecordTransactionIgnoresTimestampDrift(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.RecordTransaction(ctx, sampleRecord()); err != nil {
		t.Fatalf("first write: %v", err)
	}
	retried := sampleRecord()
	retried.CreatedAt = 1700009999
	if err := store.RecordTransaction(ctx, retried); err != nil {
		t.Fatalf("timestamp-only drift must still be idempotent: %v", err)
	}
}

func TestRecentTransactionsOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, hash := range []string{"0x01", "0x02", "0x03"} {
		record := sampleRecord()
		record.Hash = hash
		record.CreatedAt = int64(1700000000 + i)
		if err := store.RecordTransaction(ctx, record); err != nil {
			t.Fatalf("write %s: %v", hash, err)
		}
	}

	records, err := store.RecentTransactions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(records))
	}
	if records[0].Hash != "0x03" || records[1].Hash != "0x02" {
		t.Fatalf("expected newest first, got %s then %s", records[0].Hash, records[1].Hash)
	}
}

func TestUniqueTokensForUserDeduplicates(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := sampleRecord()
	second := sampleRecord()
	second.Hash = "0xdef"
	// 同一代币换了大小写也算同一个。
	second.ToToken = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"

	if err := store.RecordTransaction(ctx, first); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if err := store.RecordTransaction(ctx, second); err != nil {
		t.Fatalf("write second: %v", err)
	}

	addresses, err := store.UniqueTokensForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("unique tokens: %v", err)
	}
	if len(addresses) != 2 {
		t.Fatalf("expected 2 unique tokens, got %d: %v", len(addresses), addresses)
	}
}

func TestWalletReplacedOnPut(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetWallet(ctx, "u1"); !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	first := Wallet{UserID: "u1", Address: "0xaaa", EncryptedKey: "blob1", Origin: OriginGenerated}
	if err := store.PutWallet(ctx, first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	second := Wallet{UserID: "u1", Address: "0xbbb", EncryptedKey: "blob2", Origin: OriginImported}
	if err := store.PutWallet(ctx, second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, err := store.GetWallet(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Address != "0xbbb" || got.Origin != OriginImported {
		t.Fatalf("expected replacement wallet, got %+v", got)
	}
}

func TestSettingsUpsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetSettings(ctx, "u1"); !errors.Is(err, ErrSettingsNotFound) {
		t.Fatalf("expected ErrSettingsNotFound, got %v", err)
	}

	settings := DefaultSettings("u1")
	if settings.SlippagePercent != 1.0 || settings.GasPriority != GasMedium {
		t.Fatalf("unexpected defaults: %+v", settings)
	}
	if err := store.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	settings.SlippagePercent = 2.5
	if err := store.UpsertSettings(ctx, settings); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetSettings(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SlippagePercent != 2.5 {
		t.Fatalf("expected updated slippage, got %v", got.SlippagePercent)
	}
}
