package backpack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/kingsmao/exchange-adapter/pkg/interfaces"
	"github.com/kingsmao/exchange-adapter/pkg/logger"
	"github.com/kingsmao/exchange-adapter/pkg/schema"
)

const (
	restBase = "https://api.backpack.exchange"
	wsBase   = "wss://ws.backpack.exchange"

	// 签名指令
	instructionBalanceQuery   = "balanceQuery"
	instructionOrderQueryAll  = "orderQueryAll"
	instructionOrderHistory   = "orderHistoryQueryAll"
	instructionPositionQuery  = "positionQuery"
	instructionOrderExecute   = "orderExecute"
	defaultRequestsPerSecond  = 10
	defaultRequestsBurstLimit = 5
)

// RESTClient talks to the Backpack REST API. Public endpoints work without
// credentials; signed endpoints fail before any I/O when the signer is missing.
type RESTClient struct {
	http    *resty.Client
	signer  *Signer
	signErr error
	limiter *rate.Limiter
}

// Options tweaks endpoints and pacing; zero values mean defaults.
type Options struct {
	RESTBaseURL       string
	WSURL             string
	WindowMs          int64
	RequestsPerSecond float64
}

func NewRESTClient(cfg schema.AdapterConfig, opts Options) *RESTClient {
	baseURL := opts.RESTBaseURL
	if baseURL == "" {
		baseURL = restBase
	}
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.RequestTimeout()).
		SetHeader("Content-Type", "application/json")
	if cfg.Proxy != "" {
		client.SetProxy(cfg.Proxy)
	}

	c := &RESTClient{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(rps), defaultRequestsBurstLimit),
	}
	c.signer, c.signErr = NewSigner(cfg.APIKey, cfg.Secret, opts.WindowMs)
	return c
}

// CanSign reports whether signed endpoints are usable.
func (c *RESTClient) CanSign() bool {
	return c.signer != nil
}

func (c *RESTClient) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("backpack rate limiter: %w", err)
	}
	return nil
}

func (c *RESTClient) publicGet(ctx context.Context, path string, query map[string]string, result any) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	r, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(result).
		Get(path)
	return c.check(http.MethodGet, r, err)
}

// signedRequest signs params under instruction. GET sends them as the query, POST as the JSON body.
func (c *RESTClient) signedRequest(ctx context.Context, method, path, instruction string, params map[string]any, result any) error {
	if c.signer == nil {
		return c.signErr
	}
	if err := c.wait(ctx); err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(c.signer.Headers(instruction, params)).
		SetResult(result)

	var (
		r   *resty.Response
		err error
	)
	switch method {
	case http.MethodGet:
		query := make(map[string]string, len(params))
		for k, v := range params {
			if v == nil {
				continue
			}
			if s := formatParam(v); s != "" {
				query[k] = s
			}
		}
		r, err = req.SetQueryParams(query).Get(path)
	case http.MethodPost:
		r, err = req.SetBody(params).Post(path)
	default:
		return fmt.Errorf("backpack: unsupported method %s", method)
	}
	return c.check(method, r, err)
}

// check 记录失败请求的 method/url/status/body 后原样返回错误
func (c *RESTClient) check(method string, r *resty.Response, err error) error {
	if err != nil {
		url := ""
		if r != nil && r.Request != nil {
			url = r.Request.URL
		}
		logger.Error("Backpack REST %s %s 请求失败: %v", method, url, err)
		return err
	}
	if r.IsError() {
		var apiErr schema.BackpackErrorResponse
		_ = json.Unmarshal(r.Body(), &apiErr)
		logger.Error("Backpack REST %s %s 失败: status=%d body=%s", method, r.Request.URL, r.StatusCode(), string(r.Body()))
		if apiErr.Code != "" {
			return fmt.Errorf("backpack %s %s: %s %s (%s)", method, r.Request.URL, apiErr.Code, apiErr.Message, r.Status())
		}
		return fmt.Errorf("backpack %s %s: %s", method, r.Request.URL, r.Status())
	}
	return nil
}

// GetMarkets 获取全部交易对 (公共接口)
func (c *RESTClient) GetMarkets(ctx context.Context) ([]schema.BackpackMarketResponse, error) {
	var resp []schema.BackpackMarketResponse
	if err := c.publicGet(ctx, "/api/v1/markets", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetTickers 获取全部24h行情 (公共接口)
func (c *RESTClient) GetTickers(ctx context.Context) ([]schema.BackpackTickerResponse, error) {
	var resp []schema.BackpackTickerResponse
	if err := c.publicGet(ctx, "/api/v1/tickers", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetKlines 获取K线, startTime/endTime 为秒 (公共接口)
func (c *RESTClient) GetKlines(ctx context.Context, symbol string, interval schema.Interval, startTime, endTime int64) ([]schema.BackpackKlineResponse, error) {
	query := map[string]string{
		"symbol":    symbol,
		"interval":  string(interval),
		"startTime": strconv.FormatInt(startTime, 10),
	}
	if endTime > 0 {
		query["endTime"] = strconv.FormatInt(endTime, 10)
	}
	var resp []schema.BackpackKlineResponse
	if err := c.publicGet(ctx, "/api/v1/klines", query, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Ping 连通性检查
func (c *RESTClient) Ping(ctx context.Context) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	r, err := c.http.R().SetContext(ctx).Get("/api/v1/ping")
	if err := c.check(http.MethodGet, r, err); err != nil {
		return err
	}
	if !bytes.Contains(bytes.ToLower(r.Body()), []byte("pong")) {
		return fmt.Errorf("backpack ping: unexpected body %q", string(r.Body()))
	}
	return nil
}

// GetBalances 查询资产余额
func (c *RESTClient) GetBalances(ctx context.Context) (schema.BackpackCapitalResponse, error) {
	var resp schema.BackpackCapitalResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v1/capital", instructionBalanceQuery, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOpenOrders 查询当前挂单; symbol 为空表示全部, marketType 为 SPOT 或 PERP
func (c *RESTClient) GetOpenOrders(ctx context.Context, symbol, marketType string) ([]schema.BackpackOrderResponse, error) {
	params := map[string]any{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if marketType != "" {
		params["marketType"] = marketType
	}
	var resp []schema.BackpackOrderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v1/orders", instructionOrderQueryAll, params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOrderHistory 查询历史订单
func (c *RESTClient) GetOrderHistory(ctx context.Context, symbol string, limit int) ([]schema.BackpackOrderResponse, error) {
	params := map[string]any{}
	if symbol != "" {
		params["symbol"] = symbol
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var resp []schema.BackpackOrderResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/wapi/v1/history/orders", instructionOrderHistory, params, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetPositions 查询合约持仓
func (c *RESTClient) GetPositions(ctx context.Context) ([]schema.BackpackPositionResponse, error) {
	var resp []schema.BackpackPositionResponse
	if err := c.signedRequest(ctx, http.MethodGet, "/api/v1/position", instructionPositionQuery, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ExecuteOrder 下单
func (c *RESTClient) ExecuteOrder(ctx context.Context, req schema.BackpackOrderRequest) (schema.BackpackOrderResponse, error) {
	var resp schema.BackpackOrderResponse
	params, err := toParams(req)
	if err != nil {
		return resp, err
	}
	if err := c.signedRequest(ctx, http.MethodPost, "/api/v1/order", instructionOrderExecute, params, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// toParams flattens a request struct so the signed fields and the body are the same map.
func toParams(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	params := map[string]any{}
	if err := dec.Decode(&params); err != nil {
		return nil, err
	}
	return params, nil
}

// requireSigner is used by callers that must fail before doing any other work.
func (c *RESTClient) requireSigner() error {
	if c.signer != nil {
		return nil
	}
	if c.signErr != nil {
		return c.signErr
	}
	return interfaces.ErrMissingCredentials
}

// klineStart returns the startTime (seconds) that covers limit candles of interval ending now.
func klineStart(now time.Time, interval schema.Interval, limit int) int64 {
	d := intervalDuration(interval)
	if limit <= 0 {
		limit = 100
	}
	return now.Add(-time.Duration(limit) * d).Unix()
}

func intervalDuration(interval schema.Interval) time.Duration {
	switch interval {
	case schema.Interval3m:
		return 3 * time.Minute
	case schema.Interval5m:
		return 5 * time.Minute
	case schema.Interval15m:
		return 15 * time.Minute
	case schema.Interval30m:
		return 30 * time.Minute
	case schema.Interval1h:
		return time.Hour
	case schema.Interval4h:
		return 4 * time.Hour
	case schema.Interval1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}
