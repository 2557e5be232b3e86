package swap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "OpenTrade-Bot/internal/errors"
)

func TestQuoteParsesDataEnvelope(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotQuery = map[string]string{
			"inTokenAddress":  r.URL.Query().Get("inTokenAddress"),
			"outTokenAddress": r.URL.Query().Get("outTokenAddress"),
			"amount":          r.URL.Query().Get("amount"),
			"gasPrice":        r.URL.Query().Get("gasPrice"),
			"referrer":        r.URL.Query().Get("referrer"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"outAmount":    "2500000000",
				"estimatedGas": 180000,
				"price_impact": "0.12%",
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Referrer: "ref-1"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	quote, err := client.Quote(context.Background(), "0xin", "0xout", "1.5", "30000000000")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.OutAmount != "2500000000" || quote.EstimatedGas != 180000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if gotQuery["inTokenAddress"] != "0xin" || gotQuery["outTokenAddress"] != "0xout" {
		t.Fatalf("token params not forwarded: %v", gotQuery)
	}
	if gotQuery["amount"] != "1.5" {
		t.Fatalf("amount must stay human-readable, got %q", gotQuery["amount"])
	}
	if gotQuery["referrer"] != "ref-1" {
		t.Fatalf("referrer not forwarded: %v", gotQuery)
	}
}

func TestSwapForwardsSlippageAndAccount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/swap" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("slippage"); got != "1.5" {
			t.Fatalf("unexpected slippage %q", got)
		}
		if got := r.URL.Query().Get("account"); got != "0xwallet" {
			t.Fatalf("unexpected account %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"to":        "0xrouter",
				"data":      "0xdeadbeef",
				"value":     "0",
				"gasPrice":  "30000000000",
				"outAmount": "990000",
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	data, err := client.Swap(context.Background(), "0xin", "0xout", "1", "30000000000", 1.5, "0xwallet")
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if data.To != "0xrouter" || data.Data != "0xdeadbeef" {
		t.Fatalf("unexpected swap data: %+v", data)
	}
}

func TestInBandErrorTreatedAsRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// HTTP 200 但业务报错。
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "insufficient liquidity"})
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Quote(context.Background(), "0xin", "0xout", "1", "1")
	if err == nil {
		t.Fatalf("expected in-band error to fail the call")
	}
	if !xerrors.IsCode(err, xerrors.CodeRemoteService) {
		t.Fatalf("expected REMOTE_SERVICE error, got %v", err)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Quote(context.Background(), "0xin", "0xout", "1", "1"); err == nil {
		t.Fatalf("expected 502 to fail the call")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected missing base URL to be rejected")
	}
}
