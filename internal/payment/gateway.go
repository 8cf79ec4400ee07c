package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"backend/internal/config"
)

var (
	ErrGatewayUnavailable = errors.New("支付网关暂不可用")
	ErrVerificationFailed = errors.New("支付通知验签失败")
)

// TradeState 网关归一化的交易状态
type TradeState string

const (
	TradeStateSuccess  TradeState = "SUCCESS"
	TradeStateRefund   TradeState = "REFUND"
	TradeStateNotPay   TradeState = "NOTPAY"
	TradeStateClosed   TradeState = "CLOSED"
	TradeStateRevoked  TradeState = "REVOKED"
	TradeStatePayError TradeState = "PAYERROR"
)

// Notification 验签解密后的支付通知
type Notification struct {
	OrderNo    string     `json:"order_no"`
	TradeState TradeState `json:"trade_state"`
}

// Gateway 支付网关适配器
// 对外部支付服务商的抽象：下单、查单、验签解密通知。
// 网络调用必须受超时约束；验签失败一律拒绝，不做任何状态推断。
type Gateway interface {
	// CreateNativeOrder 创建 Native 支付单，返回付款二维码链接
	CreateNativeOrder(ctx context.Context, orderNo string, amount int64, description string) (string, error)
	// QueryOrder 查询订单在服务商侧的实时状态
	QueryOrder(ctx context.Context, orderNo string) (TradeState, error)
	// ParseNotification 验签并解析异步通知，验签失败返回 ErrVerificationFailed
	ParseNotification(ctx context.Context, headers http.Header, body []byte) (*Notification, error)
}

// wechatGateway 微信支付网关实现
// 服务商报文格式视为黑盒，仅处理下单/查单/通知三条链路需要的字段。
type wechatGateway struct {
	cfg    *config.PaymentConfig
	client *http.Client
}

// NewWechatGateway 创建微信支付网关
func NewWechatGateway(cfg *config.PaymentConfig) Gateway {
	return &wechatGateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout(),
		},
	}
}

type nativeOrderRequest struct {
	AppID       string `json:"appid"`
	MchID       string `json:"mchid"`
	OutTradeNo  string `json:"out_trade_no"`
	Description string `json:"description"`
	Amount      struct {
		Total    int64  `json:"total"`
		Currency string `json:"currency"`
	} `json:"amount"`
	NotifyURL string `json:"notify_url"`
}

type nativeOrderResponse struct {
	CodeURL string `json:"code_url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (g *wechatGateway) CreateNativeOrder(ctx context.Context, orderNo string, amount int64, description string) (string, error) {
	reqBody := nativeOrderRequest{
		AppID:       g.cfg.AppID,
		MchID:       g.cfg.MchID,
		OutTradeNo:  orderNo,
		Description: description,
		NotifyURL:   g.cfg.NotifyURL,
	}
	reqBody.Amount.Total = amount
	reqBody.Amount.Currency = "CNY"

	var resp nativeOrderResponse
	if err := g.post(ctx, "/v3/pay/transactions/native", reqBody, &resp); err != nil {
		return "", err
	}
	if resp.CodeURL == "" {
		return "", fmt.Errorf("%w: %s %s", ErrGatewayUnavailable, resp.Code, resp.Message)
	}
	return resp.CodeURL, nil
}

type queryOrderResponse struct {
	OutTradeNo string `json:"out_trade_no"`
	TradeState string `json:"trade_state"`
}

func (g *wechatGateway) QueryOrder(ctx context.Context, orderNo string) (TradeState, error) {
	url := fmt.Sprintf("%s/v3/pay/transactions/out-trade-no/%s?mchid=%s", g.cfg.BaseURL, orderNo, g.cfg.MchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: 查单返回 %d", ErrGatewayUnavailable, httpResp.StatusCode)
	}

	var resp queryOrderResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("%w: 解析查单响应失败: %v", ErrGatewayUnavailable, err)
	}
	return normalizeTradeState(resp.TradeState)
}

type notifyResource struct {
	OutTradeNo string `json:"out_trade_no"`
	TradeState string `json:"trade_state"`
}

func (g *wechatGateway) ParseNotification(ctx context.Context, headers http.Header, body []byte) (*Notification, error) {
	// 验签：对原始报文做 HMAC-SHA256，与签名头比对
	signature := headers.Get("Wechatpay-Signature")
	if signature == "" {
		return nil, fmt.Errorf("%w: 缺少签名头", ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.APIKey))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrVerificationFailed
	}

	var resource notifyResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("%w: 报文解析失败", ErrVerificationFailed)
	}
	if resource.OutTradeNo == "" {
		return nil, fmt.Errorf("%w: 通知缺少订单号", ErrVerificationFailed)
	}

	state, err := normalizeTradeState(resource.TradeState)
	if err != nil {
		return nil, err
	}
	return &Notification{OrderNo: resource.OutTradeNo, TradeState: state}, nil
}

// post 发送 JSON 请求并解析响应
func (g *wechatGateway) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpResp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("%w: 读取响应失败: %v", ErrGatewayUnavailable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: 网关返回 %d: %s", ErrGatewayUnavailable, httpResp.StatusCode, string(raw))
	}
	return json.Unmarshal(raw, respBody)
}

// normalizeTradeState 归一化服务商状态
func normalizeTradeState(raw string) (TradeState, error) {
	switch TradeState(raw) {
	case TradeStateSuccess, TradeStateRefund, TradeStateNotPay,
		TradeStateClosed, TradeStateRevoked, TradeStatePayError:
		return TradeState(raw), nil
	default:
		return "", fmt.Errorf("未知的交易状态: %q", raw)
	}
}
