package tokens

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRegistryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	content := `tokens:
  - symbol: usdc
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
  - symbol: ""
    address: "0x1"
  - symbol: DAI
    address: ""
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	registry, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def, ok := registry.Lookup("USDC")
	if !ok {
		t.Fatalf("expected USDC to be registered")
	}
	if def.Decimals != 6 {
		t.Fatalf("unexpected decimals %d", def.Decimals)
	}
	// 符号匹配不区分大小写。
	if _, ok := registry.Lookup("usdc"); !ok {
		t.Fatalf("lookup must be case-insensitive")
	}
	// 空符号与空地址的条目被忽略。
	if len(registry.Symbols()) != 1 {
		t.Fatalf("expected 1 symbol, got %v", registry.Symbols())
	}
}

func TestLoadWithEmptyPathReturnsEmptyRegistry(t *testing.T) {
	registry, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(registry.Symbols()) != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestLookupByAddress(t *testing.T) {
	registry := NewStatic(Definition{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6})

	def, ok := registry.LookupByAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	if !ok {
		t.Fatalf("address lookup must be case-insensitive")
	}
	if def.Symbol != "USDC" {
		t.Fatalf("unexpected symbol %s", def.Symbol)
	}
	if _, ok := registry.LookupByAddress("0xdead"); ok {
		t.Fatalf("unknown address must not resolve")
	}
}

func TestIsNative(t *testing.T) {
	if !IsNative(NativePlaceholder) {
		t.Fatalf("placeholder must be native")
	}
	if !IsNative("0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee") {
		t.Fatalf("native check must be case-insensitive")
	}
	if IsNative("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48") {
		t.Fatalf("ERC-20 address must not be native")
	}
}
