package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"grid_bot/internal/models"
)

const defaultBaseURL = "https://api.binance.com"

// codeInsufficientBalance Binance: "Account has insufficient balance for requested action."
const codeInsufficientBalance = -2010

// codeNoSuchOrder Binance: "Order does not exist."
const codeNoSuchOrder = -2013

type Config struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	Timeout    time.Duration
}

// Client Binance spot REST.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	log        *zap.Logger
	now        func() time.Time
}

var _ models.Gateway = (*Client)(nil)

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow.Milliseconds(),
		log:        log,
		now:        time.Now,
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// do выполняет запрос и раскладывает ответ в out. Ошибки уже классифицированы.
func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, signed bool, out any) error {
	if params == nil {
		params = url.Values{}
	}
	if signed {
		if c.apiKey == "" || c.apiSecret == "" {
			return models.Classify(models.ErrExchange, op, errEmptyCreds)
		}
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	}
	query := params.Encode()
	if signed {
		query += "&signature=" + c.sign(query)
	}

	u := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if query != "" {
			u += "?" + query
		}
	} else {
		body = strings.NewReader(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return models.Classify(models.ErrExchange, op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Classify(models.ErrNetwork, op, err)
	}
	defer resp.Body.Close()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Classify(models.ErrNetwork, op, err)
	}
	if resp.StatusCode/100 != 2 {
		return classifyHTTP(op, resp.StatusCode, rb)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(rb, out); err != nil {
		return models.Classify(models.ErrExchange, op, errDecode(err, rb))
	}
	return nil
}

func classifyHTTP(op string, status int, body []byte) error {
	var ae apiError
	_ = sonic.Unmarshal(body, &ae)
	cause := errHTTP(status, ae, body)

	switch {
	case status >= 500:
		return models.Classify(models.ErrNetwork, op, cause)
	case ae.Code == codeInsufficientBalance && strings.Contains(strings.ToLower(ae.Msg), "insufficient"):
		return models.Classify(models.ErrInsufficientFunds, op, cause)
	case ae.Code == codeNoSuchOrder:
		return models.Classify(models.ErrOrderNotFound, op, cause)
	}
	return models.Classify(models.ErrExchange, op, cause)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', 8, 64)
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
