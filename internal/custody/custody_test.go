package custody

import (
	"context"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenTrade-Bot/internal/errors"
	"OpenTrade-Bot/internal/ledger"
	"OpenTrade-Bot/internal/vault"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCustodian(t *testing.T) (*Custodian, ledger.Store) {
	t.Helper()
	v, err := vault.New(testMasterKey)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	store := ledger.NewMemoryStore()
	return New(v, store, nil), store
}

func TestImportThenExportRoundTrip(t *testing.T) {
	custodian, _ := newTestCustodian(t)
	ctx := context.Background()

	const rawKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	wallet, err := custodian.Import(ctx, "u1", "0x"+rawKey)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if wallet.Origin != ledger.OriginImported {
		t.Fatalf("expected imported origin, got %s", wallet.Origin)
	}
	if strings.Contains(wallet.EncryptedKey, rawKey) {
		t.Fatalf("encrypted blob leaks raw key")
	}

	exported, err := custodian.ExportKey(ctx, "u1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported != rawKey {
		t.Fatalf("round trip mismatch: got %s", exported)
	}
}

func TestImportDerivesAddress(t *testing.T) {
	custodian, _ := newTestCustodian(t)
	ctx := context.Background()

	const rawKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	key, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	want := crypto.PubkeyToAddress(key.PublicKey).Hex()

	wallet, err := custodian.Import(ctx, "u1", rawKey)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if wallet.Address != want {
		t.Fatalf("derived address mismatch: got %s, want %s", wallet.Address, want)
	}
}

func TestImportRejectsMalformedKeys(t *testing.T) {
	custodian, _ := newTestCustodian(t)
	ctx := context.Background()

	for _, raw := range []string{"", "abc", strings.Repeat("z", 64), "0x" + strings.Repeat("g", 64)} {
		_, err := custodian.Import(ctx, "u1", raw)
		if err == nil {
			t.Fatalf("expected key %q to be rejected", raw)
		}
		if !xerrors.IsCode(err, xerrors.CodeValidation) {
			t.Fatalf("expected VALIDATION error for %q, got %v", raw, err)
		}
	}
}

func TestGenerateCreatesUsableWallet(t *testing.T) {
	custodian, _ := newTestCustodian(t)
	ctx := context.Background()

	wallet, err := custodian.Generate(ctx, "u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(wallet.Address, "0x") || len(wallet.Address) != 42 {
		t.Fatalf("unexpected address %q", wallet.Address)
	}
	if wallet.Origin != ledger.OriginGenerated {
		t.Fatalf("expected generated origin, got %s", wallet.Origin)
	}

	exported, err := custodian.ExportKey(ctx, "u1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	key, err := crypto.HexToECDSA(exported)
	if err != nil {
		t.Fatalf("exported key not parseable: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey).Hex() != wallet.Address {
		t.Fatalf("exported key does not match stored address")
	}
}

func TestUnsealRejectsTamperedRecord(t *testing.T) {
	custodian, store := newTestCustodian(t)
	ctx := context.Background()

	wallet, err := custodian.Generate(ctx, "u1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	// 地址被改写后解密出的私钥与记录不再匹配。
	tampered := *wallet
	tampered.Address = "0x0000000000000000000000000000000000000001"
	if err := store.PutWallet(ctx, tampered); err != nil {
		t.Fatalf("put tampered: %v", err)
	}

	_, err = custodian.ExportKey(ctx, "u1")
	if err == nil {
		t.Fatalf("expected tampered record to fail decryption check")
	}
	if !xerrors.IsCode(err, xerrors.CodeCrypto) {
		t.Fatalf("expected CRYPTO error, got %v", err)
	}
}
