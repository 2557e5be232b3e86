package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	xerrors "OpenTrade-Bot/internal/errors"
)

const defaultTimeout = 30 * time.Second

// Quote 是聚合器返回的报价。报价只是估算，随输入变化即失效。
type Quote struct {
	OutAmount    string `json:"outAmount"`
	EstimatedGas uint64 `json:"estimatedGas"`
	PriceImpact  string `json:"price_impact"`
}

// SwapData 是可执行的交易字段，相同交易对可能被重新定价。
type SwapData struct {
	To           string `json:"to"`
	Data         string `json:"data"`
	Value        string `json:"value"`
	GasPrice     string `json:"gasPrice"`
	OutAmount    string `json:"outAmount"`
	EstimatedGas uint64 `json:"estimatedGas"`
}

// Provider 抽象了聚合器的报价与兑换数据接口。
// 金额入参一律是人类可读十进制串，换算由调用方负责。
type Provider interface {
	Quote(ctx context.Context, fromToken, toToken, humanAmount, gasPrice string) (*Quote, error)
	Swap(ctx context.Context, fromToken, toToken, humanAmount, gasPrice string, slippagePercent float64, account string) (*SwapData, error)
}

// Config 描述聚合器客户端的构建参数。
type Config struct {
	BaseURL  string
	Referrer string
	Timeout  time.Duration
}

// Client 通过 HTTP 访问远端聚合器。
type Client struct {
	baseURL    string
	referrer   string
	httpClient *http.Client
}

// NewClient 根据配置创建聚合器客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置聚合器地址")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:  baseURL,
		referrer: strings.TrimSpace(cfg.Referrer),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Quote 请求一次报价。
func (c *Client) Quote(ctx context.Context, fromToken, toToken, humanAmount, gasPrice string) (*Quote, error) {
	params := url.Values{}
	params.Set("inTokenAddress", fromToken)
	params.Set("outTokenAddress", toToken)
	params.Set("amount", humanAmount)
	params.Set("gasPrice", gasPrice)

	var quote Quote
	if err := c.get(ctx, "/quote", params, &quote); err != nil {
		return nil, err
	}
	if strings.TrimSpace(quote.OutAmount) == "" {
		return nil, xerrors.New(xerrors.CodeRemoteService, "报价响应缺少产出数量")
	}
	return &quote, nil
}

// Swap 请求可执行的兑换交易数据。
func (c *Client) Swap(ctx context.Context, fromToken, toToken, humanAmount, gasPrice string, slippagePercent float64, account string) (*SwapData, error) {
	params := url.Values{}
	params.Set("inTokenAddress", fromToken)
	params.Set("outTokenAddress", toToken)
	params.Set("amount", humanAmount)
	params.Set("gasPrice", gasPrice)
	params.Set("slippage", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", slippagePercent), "0"), "."))
	params.Set("account", account)

	var data SwapData
	if err := c.get(ctx, "/swap", params, &data); err != nil {
		return nil, err
	}
	if strings.TrimSpace(data.To) == "" || strings.TrimSpace(data.Data) == "" {
		return nil, xerrors.New(xerrors.CodeRemoteService, "兑换响应缺少交易字段")
	}
	return &data, nil
}

// get 发起请求并解包 data 信封。响应体内的 error 字段与传输层
// 失败同等对待。
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if c.referrer != "" {
		params.Set("referrer", c.referrer)
	}
	endpoint := c.baseURL + path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "构建聚合器请求失败")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "请求聚合器失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return xerrors.New(xerrors.CodeRemoteService,
			fmt.Sprintf("聚合器返回错误状态 %d", resp.StatusCode),
			xerrors.WithMetadata("body", strings.TrimSpace(string(body))))
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "解析聚合器响应失败")
	}
	if envelope.Error != "" {
		return xerrors.New(xerrors.CodeRemoteService, "聚合器返回业务错误",
			xerrors.WithMetadata("error", envelope.Error))
	}
	if len(envelope.Data) == 0 {
		return xerrors.New(xerrors.CodeRemoteService, "聚合器响应缺少 data 字段")
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return xerrors.Wrap(xerrors.CodeRemoteService, err, "解析聚合器 data 失败")
	}
	return nil
}

var _ Provider = (*Client)(nil)
