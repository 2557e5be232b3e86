package chain

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"OpenTrade-Bot/internal/ledger"
)

func TestBuildApproveData(t *testing.T) {
	spender := "0x1111111254EEB25477B68fb85Ed929f73A960582"
	amount := big.NewInt(1000000)

	data := BuildApproveData(spender, amount)
	if len(data) != 4+32+32 {
		t.Fatalf("unexpected calldata length %d", len(data))
	}
	if !bytes.Equal(data[:4], selectorApprove) {
		t.Fatalf("wrong selector %s", hex.EncodeToString(data[:4]))
	}
	// 参数左填充到 32 字节。
	if got := new(big.Int).SetBytes(data[36:]); got.Cmp(amount) != 0 {
		t.Fatalf("amount not encoded: got %s", got)
	}
}

func TestBuildTransferData(t *testing.T) {
	data := BuildTransferData("0x2222222222222222222222222222222222222222", big.NewInt(42))
	if !bytes.Equal(data[:4], selectorTransfer) {
		t.Fatalf("wrong selector %s", hex.EncodeToString(data[:4]))
	}
	if got := new(big.Int).SetBytes(data[36:]); got.Int64() != 42 {
		t.Fatalf("amount not encoded: got %s", got)
	}
}

func TestDecodeABIStringDynamic(t *testing.T) {
	// offset=32, length=4, "USDC"
	raw := make([]byte, 96)
	raw[31] = 32
	raw[63] = 4
	copy(raw[64:], "USDC")

	got, err := decodeABIString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "USDC" {
		t.Fatalf("expected USDC, got %q", got)
	}
}

func TestDecodeABIStringBytes32(t *testing.T) {
	raw := make([]byte, 32)
	copy(raw, "MKR")

	got, err := decodeABIString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != "MKR" {
		t.Fatalf("expected MKR, got %q", got)
	}
}

func TestDecodeABIStringRejectsGarbage(t *testing.T) {
	cases := [][]byte{
		nil,
		make([]byte, 40),
	}
	for _, raw := range cases {
		if _, err := decodeABIString(raw); err == nil {
			t.Fatalf("expected decode of %d bytes to fail", len(raw))
		}
	}
}

func TestDecodeABIStringRejectsHugeWords(t *testing.T) {
	maxUint64 := new(big.Int).Lsh(big.NewInt(1), 64)

	// 偏移字为 2^64-32，加 32 后在 uint64 里回绕到 0。
	hugeOffset := make([]byte, 64)
	new(big.Int).Sub(maxUint64, big.NewInt(32)).FillBytes(hugeOffset[:32])

	// 长度字为 2^64-64，start+32+length 同样回绕。
	hugeLength := make([]byte, 64)
	hugeLength[31] = 32
	new(big.Int).Sub(maxUint64, big.NewInt(64)).FillBytes(hugeLength[32:])

	// 偏移字超出 uint64 范围。
	wideOffset := make([]byte, 64)
	maxUint64.FillBytes(wideOffset[:32])

	for _, raw := range [][]byte{hugeOffset, hugeLength, wideOffset} {
		if _, err := decodeABIString(raw); err == nil {
			t.Fatalf("expected oversized word to be rejected")
		}
	}
}

func TestScaleGasPrice(t *testing.T) {
	suggested := big.NewInt(30_000_000_000)

	cases := []struct {
		priority ledger.GasPriority
		want     int64
	}{
		{ledger.GasLow, 24_000_000_000},
		{ledger.GasMedium, 30_000_000_000},
		{ledger.GasHigh, 36_000_000_000},
	}
	for _, tc := range cases {
		if got := ScaleGasPrice(suggested, tc.priority); got.Int64() != tc.want {
			t.Fatalf("priority %s: got %s, want %d", tc.priority, got, tc.want)
		}
	}
	// 入参不能被原地修改。
	if suggested.Int64() != 30_000_000_000 {
		t.Fatalf("suggested price mutated: %s", suggested)
	}
}
