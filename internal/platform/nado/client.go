// Package nado is the REST gateway client for the Nado perpetuals venue:
// signed order placement and cancellation on /execute, account and market
// queries on /query, and trade history from the archive indexer.
package nado

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/nadobot/internal/crypto"
	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Mozilla/5.0"
	archiveAgent   = "NadoBot/1.0"
	appOrigin      = "https://app.nado.xyz"

	// FallbackProductID is ETH-PERP, used when ticker resolution fails.
	FallbackProductID uint32 = 4
	// FallbackEndpoint is the mainnet endpoint contract.
	FallbackEndpoint = "0x05ec92d78ed421f3d3ada77ffde167106565974e"

	maxLoggedBody = 200
)

var (
	// FallbackTickSize pairs with FallbackProductID.
	FallbackTickSize = decimal.RequireFromString("0.1")
	// DefaultKnownProducts is the scan set for an unscoped cancel-all:
	// ETH, BTC and SOL perps.
	DefaultKnownProducts = []uint32{4, 2, 34}
)

// ClientConfig holds everything the gateway client needs besides the signer.
type ClientConfig struct {
	GatewayURL string
	ArchiveURL string
	Subaccount string

	// ProductID and TickSize are the defaults until ContractAttributes
	// resolves a ticker.
	ProductID     uint32
	TickSize      decimal.Decimal
	EndpointAddr  common.Address
	KnownProducts []uint32
	Timeout       time.Duration
	StrikeLimit   int

	// Limiter throttles /execute when set. Its Wait budget is built from
	// OrdersPerSecond; zero disables throttling.
	Limiter         domain.RateLimiter
	OrdersPerSecond int

	Clock func() time.Time
}

// Client talks to the gateway. It is safe for concurrent use.
type Client struct {
	cfg       ClientConfig
	signer    *crypto.Signer
	sender    [32]byte
	senderHex string
	logger    *slog.Logger

	mu         sync.RWMutex
	httpClient *http.Client
	productID  uint32
	tickSize   decimal.Decimal
	endpoint   common.Address
	ticks      map[uint32]decimal.Decimal
	positions  map[uint32]*PositionCache
}

// NewClient builds a client for the signer's sub-account. It does not touch
// the network; call Connect to open the persistent transport.
func NewClient(cfg ClientConfig, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	if signer == nil {
		return nil, errors.New("nado/client: signer is required")
	}
	if cfg.Subaccount == "" {
		cfg.Subaccount = crypto.DefaultSubaccount
	}
	sender, err := crypto.EncodeSubaccount(signer.Address().Hex(), cfg.Subaccount)
	if err != nil {
		return nil, fmt.Errorf("nado/client: %w", err)
	}
	if cfg.ProductID == 0 {
		cfg.ProductID = FallbackProductID
	}
	if !cfg.TickSize.IsPositive() {
		cfg.TickSize = FallbackTickSize
	}
	if len(cfg.KnownProducts) == 0 {
		cfg.KnownProducts = DefaultKnownProducts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.StrikeLimit <= 0 {
		cfg.StrikeLimit = DefaultStrikeLimit
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	return &Client{
		cfg:       cfg,
		signer:    signer,
		sender:    sender,
		senderHex: crypto.SubaccountHex(sender),
		logger:    logger.With(slog.String("component", "nado_client")),
		productID: cfg.ProductID,
		tickSize:  cfg.TickSize,
		endpoint:  cfg.EndpointAddr,
		ticks:     map[uint32]decimal.Decimal{cfg.ProductID: cfg.TickSize},
		positions: make(map[uint32]*PositionCache),
	}, nil
}

// Connect opens the persistent keep-alive transport used by every request
// until Close. Calling it twice is a no-op.
func (c *Client) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.httpClient != nil {
		return
	}
	c.httpClient = &http.Client{
		Timeout:   c.cfg.Timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

// Close releases the persistent transport. Later requests fall back to
// ephemeral connections.
func (c *Client) Close() {
	c.mu.Lock()
	hc := c.httpClient
	c.httpClient = nil
	c.mu.Unlock()
	if hc != nil {
		hc.CloseIdleConnections()
	}
}

// Connected reports whether the persistent transport is open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.httpClient != nil
}

// Sender is the sub-account identifier in wire form.
func (c *Client) Sender() string { return c.senderHex }

// ProductID is the currently resolved product.
func (c *Client) ProductID() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.productID
}

// TickSize is the tick of the currently resolved product.
func (c *Client) TickSize() decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickSize
}

// Query posts payload to /query and returns the raw body.
func (c *Client) Query(ctx context.Context, payload any) (json.RawMessage, error) {
	return c.post(ctx, "query", c.cfg.GatewayURL+"/query", payload)
}

// Execute posts payload to /execute and returns the raw body. It waits on
// the rate limiter first when one is configured.
func (c *Client) Execute(ctx context.Context, payload any) (json.RawMessage, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	return c.post(ctx, "execute", c.cfg.GatewayURL+"/execute", payload)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// transport returns the persistent client, or an ephemeral one with
// keep-alives disabled plus a release func that drops its connections.
func (c *Client) transport() (*http.Client, func()) {
	c.mu.RLock()
	hc := c.httpClient
	c.mu.RUnlock()
	if hc != nil {
		return hc, func() {}
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DisableKeepAlives = true
	eph := &http.Client{Timeout: c.cfg.Timeout, Transport: tr}
	return eph, eph.CloseIdleConnections
}

func (c *Client) post(ctx context.Context, endpoint, url string, payload any) ([]byte, error) {
	typ := requestType(payload)
	start := time.Now()
	body, err := c.doPost(ctx, endpoint, url, payload)
	metrics.GatewayLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	metrics.GatewayRequests.WithLabelValues(endpoint, typ, outcome(err)).Inc()
	if err != nil {
		c.logger.WarnContext(ctx, "gateway request failed",
			slog.String("endpoint", endpoint),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
	return body, err
}

func (c *Client) doPost(ctx context.Context, endpoint, url string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("nado/client: marshal %s payload: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("nado/client: create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if endpoint == "archive" {
		req.Header.Set("User-Agent", archiveAgent)
	} else {
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Origin", appOrigin)
	}

	hc, release := c.transport()
	defer release()

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nado/client: %s: %w: %v", endpoint, domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("nado/client: read %s response: %w: %v", endpoint, domain.ErrTransport, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, fmt.Errorf("nado/client: %s: %w", endpoint, err)
	}
	return body, nil
}

// checkHTTPStatus maps anything but 200 to ErrHTTPStatus, joined with the
// matching domain error where one exists.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode == http.StatusOK {
		return nil
	}

	bodyStr := truncate(string(body), maxLoggedBody)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w (HTTP %d): %w: %s", domain.ErrHTTPStatus, statusCode, domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w (HTTP %d): %w: %s", domain.ErrHTTPStatus, statusCode, domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w (HTTP %d): %w: %s", domain.ErrHTTPStatus, statusCode, domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w (HTTP %d): %s", domain.ErrHTTPStatus, statusCode, bodyStr)
	}
}

// throttle blocks until the limiter admits one execute. Limiter errors fail
// open so a cache outage never blocks a cancel; only the caller giving up
// aborts the request.
func (c *Client) throttle(ctx context.Context) error {
	if c.cfg.Limiter == nil || c.cfg.OrdersPerSecond <= 0 {
		return nil
	}
	err := c.cfg.Limiter.Wait(ctx, "nado:execute:"+c.senderHex)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("nado/client: throttle: %w: %v", domain.ErrTransport, ctx.Err())
	default:
		c.logger.WarnContext(ctx, "rate limiter unavailable, proceeding", slog.String("error", err.Error()))
		return nil
	}
}

// query runs a typed /query request and decodes its data field into out.
func (c *Client) query(ctx context.Context, payload map[string]any, out any) error {
	body, err := c.Query(ctx, payload)
	if err != nil {
		return err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return err
	}
	if env.Status != "success" {
		return fmt.Errorf("nado/client: query %v: %w: %s", payload["type"], domain.ErrNoData, venueError(env))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("nado/client: query %v: %w", payload["type"], domain.ErrNoData)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("nado/client: decode %v: %w: %v", payload["type"], domain.ErrMalformed, err)
	}
	return nil
}

func decodeEnvelope(body []byte) (response, error) {
	var env response
	if err := json.Unmarshal(body, &env); err != nil {
		return env, fmt.Errorf("nado/client: decode envelope: %w: %v", domain.ErrMalformed, err)
	}
	return env, nil
}

func venueError(env response) string {
	msg := env.Error
	if msg == "" {
		msg = "Unknown error"
	}
	if env.ErrorCode != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, env.ErrorCode)
	}
	return msg
}

// failureKind classifies a transport-level error for an OrderResult.
func failureKind(err error) domain.FailureKind {
	switch {
	case errors.Is(err, domain.ErrHTTPStatus):
		return domain.FailureHTTPStatus
	case errors.Is(err, domain.ErrMalformed):
		return domain.FailureMalformed
	default:
		return domain.FailureTransport
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(failureKind(err))
}

func requestType(payload any) string {
	switch p := payload.(type) {
	case map[string]any:
		if t, ok := p["type"].(string); ok {
			return t
		}
	case placeOrdersRequest:
		return "place_orders"
	case cancelOrdersRequest:
		return "cancel_orders"
	}
	return "unknown"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
