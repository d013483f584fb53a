package nado

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultDepth is the number of levels requested from market_liquidity.
const DefaultDepth = 5

// ActiveOrders lists the sub-account's resting orders on productID. Rows
// missing an amount or a price are skipped.
func (c *Client) ActiveOrders(ctx context.Context, productID uint32) ([]domain.OrderInfo, error) {
	pid := c.resolvePID(productID)
	body, err := c.Query(ctx, map[string]any{
		"type":       "subaccount_orders",
		"sender":     c.senderHex,
		"product_id": pid,
	})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return nil, err
	}
	if env.Status != "" && env.Status != "success" {
		return nil, fmt.Errorf("nado/client: subaccount_orders: %w: %s", domain.ErrNoData, venueError(env))
	}

	raw := env.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}
	var rows []apiOrder
	var wrapped subaccountOrdersData
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		rows = wrapped.Orders
	} else if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("nado/client: decode subaccount_orders: %w: %v", domain.ErrMalformed, err)
	}

	orders := make([]domain.OrderInfo, 0, len(rows))
	for _, row := range rows {
		o, ok := row.toDomain(pid)
		if !ok {
			c.logger.WarnContext(ctx, "skipping order without amount or price",
				slog.Uint64("product_id", uint64(pid)),
			)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// SubaccountInfo fetches and parses the account snapshot.
func (c *Client) SubaccountInfo(ctx context.Context) (domain.AccountSnapshot, error) {
	var data subaccountInfoData
	if err := c.query(ctx, map[string]any{
		"type":       "subaccount_info",
		"subaccount": c.senderHex,
	}, &data); err != nil {
		return domain.AccountSnapshot{}, err
	}
	snap := data.toDomain()
	snap.FetchedAt = c.cfg.Clock()
	return snap, nil
}

// Position returns the signed position of productID through the anti-glitch
// cache. On a fetch error it returns the cached value (zero when nothing is
// cached) together with the error.
func (c *Client) Position(ctx context.Context, productID uint32) (decimal.Decimal, error) {
	pid := c.resolvePID(productID)
	cache := c.positionCache(pid)

	token := cache.Begin()
	snap, err := c.SubaccountInfo(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "position fetch failed",
			slog.Uint64("product_id", uint64(pid)),
			slog.String("error", err.Error()),
		)
		return cache.Fallback(), err
	}
	pos, found := snap.PositionOf(pid)
	return cache.Observe(token, pos, found), nil
}

// ApplyFill folds a streamed fill into the position cache of productID and
// clears the strike counter.
func (c *Client) ApplyFill(productID uint32, amount decimal.Decimal) {
	cache := c.positionCache(c.resolvePID(productID))
	if v, ok := cache.ApplyFill(amount); ok {
		c.logger.Info("position updated from fill",
			slog.String("position", v.String()),
			slog.String("change", amount.String()),
		)
	}
}

// ResetStrikes clears the strike counter of productID without touching the
// cached value or invalidating in-flight position reads.
func (c *Client) ResetStrikes(productID uint32) {
	c.positionCache(c.resolvePID(productID)).ResetStrikes()
}

func (c *Client) positionCache(pid uint32) *PositionCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.positions[pid]
	if !ok {
		pc = NewPositionCache(c.cfg.StrikeLimit, c.logger.With(slog.Uint64("product_id", uint64(pid))))
		c.positions[pid] = pc
	}
	return pc
}

// OraclePrice reads the oracle price of productID from all_products.
func (c *Client) OraclePrice(ctx context.Context, productID uint32) (decimal.Decimal, error) {
	var data allProductsData
	if err := c.query(ctx, map[string]any{"type": "all_products"}, &data); err != nil {
		return decimal.Zero, err
	}
	for _, p := range append(data.SpotProducts, data.PerpProducts...) {
		if p.ProductID.uint32() != productID {
			continue
		}
		px, err := domain.FromX18(string(p.OraclePriceX18))
		if err != nil {
			return decimal.Zero, fmt.Errorf("nado/client: oracle price of %d: %w", productID, err)
		}
		return px, nil
	}
	return decimal.Zero, fmt.Errorf("nado/client: product %d in all_products: %w", productID, domain.ErrNotFound)
}

// Depth fetches the top levels of productID. Both the wrapped
// {"data":{"bids":...}} and the root-level {"bids":...} shapes are accepted.
func (c *Client) Depth(ctx context.Context, productID uint32, depth int) (domain.DepthSnapshot, error) {
	pid := c.resolvePID(productID)
	if depth <= 0 {
		depth = DefaultDepth
	}
	body, err := c.Query(ctx, map[string]any{
		"type":       "market_liquidity",
		"product_id": pid,
		"depth":      depth,
	})
	if err != nil {
		return domain.DepthSnapshot{}, err
	}
	return parseDepth(body, pid)
}

func parseDepth(body []byte, pid uint32) (domain.DepthSnapshot, error) {
	var probe struct {
		Data json.RawMessage `json:"data"`
		liquidityData
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return domain.DepthSnapshot{}, fmt.Errorf("nado/client: decode market_liquidity: %w: %v", domain.ErrMalformed, err)
	}

	liq := probe.liquidityData
	if len(probe.Data) > 0 && string(probe.Data) != "null" {
		var inner liquidityData
		if err := json.Unmarshal(probe.Data, &inner); err == nil && (len(inner.Bids) > 0 || len(inner.Asks) > 0) {
			liq = inner
		}
	}
	snap := domain.DepthSnapshot{
		ProductID: pid,
		Bids:      levelsToDomain(liq.Bids),
		Asks:      levelsToDomain(liq.Asks),
	}
	if ts := liq.Timestamp.int64(); ts > 0 {
		snap.Timestamp = unixAuto(ts)
	}
	if snap.Empty() {
		return snap, fmt.Errorf("nado/client: market_liquidity %d: %w", pid, domain.ErrNoData)
	}
	return snap, nil
}

// ContractAttributes resolves ticker to a product, tick size and endpoint
// address and makes them the client's defaults. It never fails: on any
// resolution error it logs a warning and falls back to ETH-PERP defaults.
func (c *Client) ContractAttributes(ctx context.Context, ticker string) domain.MarketInfo {
	symbol := NormalizeTicker(ticker)
	info := domain.MarketInfo{Ticker: ticker, Symbol: symbol}

	sym, err := c.lookupSymbol(ctx, symbol)
	if err != nil {
		c.logger.WarnContext(ctx, "ticker resolution failed, using defaults",
			slog.String("ticker", ticker),
			slog.String("error", err.Error()),
		)
		info.ProductID = FallbackProductID
		info.TickSize = FallbackTickSize
		info.Fallback = true
	} else {
		info.ProductID = sym.ProductID.uint32()
		info.TickSize = sym.PriceIncrementX18.x18()
		info.MinSize = sym.MinSize.x18()
		if !info.TickSize.IsPositive() {
			info.TickSize = FallbackTickSize
		}
	}

	info.EndpointAddr = c.cfg.EndpointAddr
	if info.EndpointAddr == (common.Address{}) {
		addr, err := c.lookupEndpoint(ctx)
		if err != nil {
			c.logger.WarnContext(ctx, "endpoint resolution failed, using fallback",
				slog.String("fallback", FallbackEndpoint),
				slog.String("error", err.Error()),
			)
			addr = common.HexToAddress(FallbackEndpoint)
			info.Fallback = true
		}
		info.EndpointAddr = addr
	}

	c.mu.Lock()
	c.productID = info.ProductID
	c.tickSize = info.TickSize
	c.endpoint = info.EndpointAddr
	c.ticks[info.ProductID] = info.TickSize
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "market resolved",
		slog.String("symbol", symbol),
		slog.Uint64("product_id", uint64(info.ProductID)),
		slog.String("tick_size", info.TickSize.String()),
		slog.String("endpoint", info.EndpointAddr.Hex()),
		slog.Bool("fallback", info.Fallback),
	)
	return info
}

// NormalizeTicker upper-cases ticker and appends -PERP when missing.
func NormalizeTicker(ticker string) string {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if !strings.HasSuffix(t, "-PERP") {
		t += "-PERP"
	}
	return t
}

func (c *Client) lookupSymbol(ctx context.Context, symbol string) (apiSymbol, error) {
	var data symbolsData
	if err := c.query(ctx, map[string]any{"type": "symbols"}, &data); err != nil {
		return apiSymbol{}, err
	}
	for key, s := range data.Symbols {
		name := s.Symbol
		if name == "" {
			name = key
		}
		if strings.EqualFold(name, symbol) && (s.Type == "" || s.Type == "perp") {
			return s, nil
		}
	}
	return apiSymbol{}, fmt.Errorf("nado/client: symbol %s: %w", symbol, domain.ErrNotFound)
}

func (c *Client) lookupEndpoint(ctx context.Context) (common.Address, error) {
	var data contractsData
	if err := c.query(ctx, map[string]any{"type": "contracts"}, &data); err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(data.EndpointAddr) {
		return common.Address{}, fmt.Errorf("nado/client: contracts endpoint_addr %q: %w", data.EndpointAddr, domain.ErrMalformed)
	}
	return common.HexToAddress(data.EndpointAddr), nil
}

// AvailablePairs lists perp products sorted by symbol. Their ticks are
// remembered for market-order rounding.
func (c *Client) AvailablePairs(ctx context.Context) ([]domain.Pair, error) {
	var data symbolsData
	if err := c.query(ctx, map[string]any{"type": "symbols"}, &data); err != nil {
		return nil, err
	}
	pairs := make([]domain.Pair, 0, len(data.Symbols))
	for key, s := range data.Symbols {
		if s.Type != "perp" {
			continue
		}
		name := s.Symbol
		if name == "" {
			name = key
		}
		pairs = append(pairs, domain.Pair{
			Symbol:    name,
			ProductID: s.ProductID.uint32(),
			TickSize:  s.PriceIncrementX18.x18(),
			MinSize:   s.MinSize.x18(),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })

	c.mu.Lock()
	for _, p := range pairs {
		if p.TickSize.IsPositive() {
			c.ticks[p.ProductID] = p.TickSize
		}
	}
	c.mu.Unlock()
	return pairs, nil
}

// HistoricalTrades reads the sub-account's latest matches from the archive
// indexer. Any failure yields an empty slice and the cause.
func (c *Client) HistoricalTrades(ctx context.Context, limit int) ([]domain.TradeRecord, error) {
	if c.cfg.ArchiveURL == "" {
		return []domain.TradeRecord{}, errors.New("nado/client: archive url not configured")
	}
	body, err := c.post(ctx, "archive", c.cfg.ArchiveURL+"/query", map[string]any{
		"type":       "matches",
		"subaccount": c.senderHex,
		"limit":      limit,
	})
	if err != nil {
		return []domain.TradeRecord{}, err
	}

	var wrapped struct {
		Data    *matchesData `json:"data"`
		Matches []apiMatch   `json:"matches"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		c.logger.ErrorContext(ctx, "archive decode failed", slog.String("error", err.Error()))
		return []domain.TradeRecord{}, fmt.Errorf("nado/client: decode matches: %w: %v", domain.ErrMalformed, err)
	}
	matches := wrapped.Matches
	if wrapped.Data != nil && len(wrapped.Data.Matches) > 0 {
		matches = wrapped.Data.Matches
	}

	trades := make([]domain.TradeRecord, 0, len(matches))
	for _, m := range matches {
		amt, err := domain.FromX18(string(m.Amount))
		if err != nil {
			continue
		}
		px, err := domain.FromX18(string(m.Price))
		if err != nil {
			continue
		}
		ts := time.Unix(m.Timestamp.int64(), 0)
		side := domain.OrderSideBuy
		if amt.IsNegative() {
			side = domain.OrderSideSell
		}
		id := m.Digest
		if id == "" {
			id = uuid.NewString()
		} else if m.SubmIdx != "" {
			id = fmt.Sprintf("%s:%s", m.Digest, m.SubmIdx)
		}
		trades = append(trades, domain.TradeRecord{
			ID:         id,
			ProductID:  m.ProductID.uint32(),
			Side:       side,
			Size:       amt.Abs(),
			Price:      px,
			Timestamp:  ts,
			Clock:      ts.Format("15:04:05"),
			Source:     domain.TradeSourceArchive,
			Subaccount: c.senderHex,
		})
	}
	return trades, nil
}

// unixAuto reads a timestamp in seconds, milliseconds or nanoseconds.
func unixAuto(v int64) time.Time {
	switch {
	case v > 1e17:
		return time.Unix(0, v)
	case v > 1e11:
		return time.UnixMilli(v)
	default:
		return time.Unix(v, 0)
	}
}
