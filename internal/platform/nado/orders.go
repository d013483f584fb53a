package nado

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/nadobot/internal/crypto"
	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/alanyoungcy/nadobot/internal/metrics"
	"github.com/shopspring/decimal"
)

var (
	marketBuySlippage  = decimal.RequireFromString("1.05")
	marketSellSlippage = decimal.RequireFromString("0.95")
)

// OrderRequest describes one order. A zero ProductID means the resolved
// product; a nil Price means the oracle price.
type OrderRequest struct {
	ProductID  uint32
	Quantity   decimal.Decimal
	Side       domain.OrderSide
	Price      *decimal.Decimal
	Type       domain.OrderType
	ReduceOnly bool
}

// BatchLeg is one order of a batch.
type BatchLeg struct {
	Quantity decimal.Decimal
	Side     domain.OrderSide
	Price    decimal.Decimal
}

// PlaceOrder signs and submits a single order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) domain.OrderResult {
	pid := c.resolvePID(req.ProductID)

	var price decimal.Decimal
	if req.Price != nil {
		price = *req.Price
	} else {
		oracle, err := c.OraclePrice(ctx, pid)
		if err != nil {
			return c.recordOrder("place", domain.Rejected(failureKind(err), "oracle price: "+err.Error()))
		}
		price = oracle
	}

	c.logger.InfoContext(ctx, "placing order",
		slog.Uint64("product_id", uint64(pid)),
		slog.String("side", string(req.Side)),
		slog.String("quantity", req.Quantity.String()),
		slog.String("price", price.String()),
		slog.String("type", req.Type.String()),
	)

	ns := crypto.NewNonceSource(crypto.OrderNonceOffset)
	ns.Clock = c.cfg.Clock
	item, err := c.buildOrder(pid, req.Quantity, req.Side, price, crypto.AppendixOptions{
		OrderType:  uint8(req.Type),
		ReduceOnly: req.ReduceOnly,
	}, ns, 0, ns.Expiration())
	if err != nil {
		return c.recordOrder("place", domain.Rejected(domain.FailureInvalid, err.Error()))
	}

	action := "place"
	if req.Type == domain.OrderTypeIOC {
		action = "market"
	}
	return c.recordOrder(action, c.submitPlace(ctx, []placeOrderItem{item}))
}

// PlaceMarketOrder crosses the book with an IOC order priced 5% through
// the oracle price and rounded to the tick.
func (c *Client) PlaceMarketOrder(ctx context.Context, productID uint32, qty decimal.Decimal, side domain.OrderSide) domain.OrderResult {
	pid := c.resolvePID(productID)
	oracle, err := c.OraclePrice(ctx, pid)
	if err != nil {
		return c.recordOrder("market", domain.Rejected(failureKind(err), "oracle price: "+err.Error()))
	}

	slip := marketBuySlippage
	if side == domain.OrderSideSell {
		slip = marketSellSlippage
	}
	price := domain.RoundToTick(oracle.Mul(slip), c.tickFor(pid))

	c.logger.InfoContext(ctx, "market order",
		slog.String("side", string(side)),
		slog.String("quantity", qty.String()),
		slog.String("price", price.String()),
	)
	return c.PlaceOrder(ctx, OrderRequest{
		ProductID: pid,
		Quantity:  qty,
		Side:      side,
		Price:     &price,
		Type:      domain.OrderTypeIOC,
	})
}

// PlaceBatchOrders signs every leg as a limit order and submits them in one
// request. Leg i uses nonce index i; the venue takes all or nothing.
func (c *Client) PlaceBatchOrders(ctx context.Context, productID uint32, legs []BatchLeg) domain.OrderResult {
	if len(legs) == 0 {
		return c.recordOrder("batch", domain.Rejected(domain.FailureInvalid, "empty batch"))
	}
	pid := c.resolvePID(productID)

	ns := crypto.NewNonceSource(crypto.OrderNonceOffset)
	ns.Clock = c.cfg.Clock
	expiration := ns.Expiration()

	items := make([]placeOrderItem, 0, len(legs))
	for i, leg := range legs {
		item, err := c.buildOrder(pid, leg.Quantity, leg.Side, leg.Price, crypto.AppendixOptions{}, ns, i, expiration)
		if err != nil {
			return c.recordOrder("batch", domain.Rejected(domain.FailureInvalid, fmt.Sprintf("leg %d: %v", i, err)))
		}
		items = append(items, item)
	}

	c.logger.InfoContext(ctx, "placing batch",
		slog.Uint64("product_id", uint64(pid)),
		slog.Int("orders", len(items)),
	)
	return c.recordOrder("batch", c.submitPlace(ctx, items))
}

// CancelOrders cancels digests in one signed request. Without product ids
// every digest is attributed to the resolved product.
func (c *Client) CancelOrders(ctx context.Context, digests []string, productIDs []uint32) domain.OrderResult {
	if len(digests) == 0 {
		return domain.Accepted()
	}
	if len(productIDs) == 0 {
		pid := c.ProductID()
		productIDs = make([]uint32, len(digests))
		for i := range productIDs {
			productIDs[i] = pid
		}
	}
	if len(productIDs) != len(digests) {
		return c.recordOrder("cancel", domain.Rejected(domain.FailureInvalid,
			fmt.Sprintf("%d product ids for %d digests", len(productIDs), len(digests))))
	}

	parsed := make([][32]byte, 0, len(digests))
	wire := make([]string, 0, len(digests))
	for _, d := range digests {
		b, err := crypto.ParseDigest(d)
		if err != nil {
			return c.recordOrder("cancel", domain.Rejected(domain.FailureInvalid, err.Error()))
		}
		parsed = append(parsed, b)
		wire = append(wire, strings.TrimPrefix(d, "0x"))
	}

	ns := crypto.NewNonceSource(crypto.CancelNonceOffset)
	ns.Clock = c.cfg.Clock
	nonce := ns.Nonce(0)

	c.mu.RLock()
	endpoint := c.endpoint
	c.mu.RUnlock()

	sig, err := c.signer.SignCancellation(crypto.CancellationMessage{
		Sender:     c.sender,
		ProductIDs: productIDs,
		Digests:    parsed,
		Nonce:      nonce,
	}, endpoint)
	if err != nil {
		return c.recordOrder("cancel", domain.Rejected(domain.FailureInvalid, err.Error()))
	}

	var req cancelOrdersRequest
	req.CancelOrders.Tx = cancelTx{
		Sender:     c.senderHex,
		ProductIDs: productIDs,
		Digests:    wire,
		Nonce:      fmt.Sprintf("%d", nonce),
	}
	req.CancelOrders.Signature = sig

	c.logger.InfoContext(ctx, "cancelling orders", slog.Int("count", len(digests)))

	body, err := c.Execute(ctx, req)
	if err != nil {
		return c.recordOrder("cancel", domain.Rejected(failureKind(err), err.Error()))
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return c.recordOrder("cancel", domain.Rejected(domain.FailureMalformed, err.Error()))
	}
	if env.Status != "success" {
		msg := venueError(env)
		c.logger.ErrorContext(ctx, "cancel rejected", slog.String("error", msg))
		return c.recordOrder("cancel", domain.Rejected(domain.FailureRejected, msg))
	}
	return c.recordOrder("cancel", domain.Accepted())
}

// CancelAllOrders cancels every resting order of productID. With a nil
// product it scans the configured known products only; orders on any other
// product are not seen. Nothing found means success without a request.
func (c *Client) CancelAllOrders(ctx context.Context, productID *uint32) domain.OrderResult {
	scan := c.cfg.KnownProducts
	if productID != nil {
		scan = []uint32{*productID}
	}

	var (
		digests []string
		pids    []uint32
	)
	for _, pid := range scan {
		orders, err := c.ActiveOrders(ctx, pid)
		if err != nil {
			if productID != nil {
				return c.recordOrder("cancel", domain.Rejected(failureKind(err), err.Error()))
			}
			c.logger.WarnContext(ctx, "cancel-all scan skipped product",
				slog.Uint64("product_id", uint64(pid)),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, o := range orders {
			digests = append(digests, o.Digest)
			pids = append(pids, o.ProductID)
		}
	}

	if len(digests) == 0 {
		c.logger.InfoContext(ctx, "no resting orders found", slog.Int("products_scanned", len(scan)))
		return domain.Accepted()
	}
	return c.CancelOrders(ctx, digests, pids)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) buildOrder(pid uint32, qty decimal.Decimal, side domain.OrderSide, price decimal.Decimal, opts crypto.AppendixOptions, ns crypto.NonceSource, index int, expiration uint64) (placeOrderItem, error) {
	if !qty.IsPositive() {
		return placeOrderItem{}, fmt.Errorf("%w: quantity %s must be positive", domain.ErrInvalidOrder, qty)
	}
	if !price.IsPositive() {
		return placeOrderItem{}, fmt.Errorf("%w: price %s must be positive", domain.ErrInvalidOrder, price)
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return placeOrderItem{}, fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, side)
	}
	if err := opts.Validate(); err != nil {
		return placeOrderItem{}, err
	}

	amount := domain.ToX18(qty)
	if side == domain.OrderSideSell {
		amount.Neg(amount)
	}
	msg := crypto.OrderMessage{
		Sender:     c.sender,
		PriceX18:   domain.ToX18(price),
		Amount:     amount,
		Expiration: expiration,
		Nonce:      ns.Nonce(index),
		Appendix:   crypto.BuildAppendix(opts),
	}
	sig, err := c.signer.SignOrder(msg, pid)
	if err != nil {
		return placeOrderItem{}, fmt.Errorf("%w: %v", domain.ErrSigningFailed, err)
	}

	return placeOrderItem{
		ProductID: pid,
		Order: wireOrder{
			Sender:     c.senderHex,
			PriceX18:   msg.PriceX18.String(),
			Amount:     msg.Amount.String(),
			Expiration: fmt.Sprintf("%d", msg.Expiration),
			Nonce:      fmt.Sprintf("%d", msg.Nonce),
			Appendix:   msg.Appendix.String(),
		},
		Signature: sig,
	}, nil
}

func (c *Client) submitPlace(ctx context.Context, items []placeOrderItem) domain.OrderResult {
	var req placeOrdersRequest
	req.PlaceOrders.Orders = items

	body, err := c.Execute(ctx, req)
	if err != nil {
		return domain.Rejected(failureKind(err), err.Error())
	}
	res := interpretPlace(body)
	if res.Success {
		c.logger.InfoContext(ctx, "orders accepted", slog.Any("digests", res.Digests))
	} else {
		c.logger.ErrorContext(ctx, "orders rejected",
			slog.String("error", res.Message),
			slog.String("response", truncate(string(body), maxLoggedBody)),
		)
	}
	return res
}

// interpretPlace requires status "success" and a digest on every returned
// item; the first problem found becomes the failure message.
func interpretPlace(body []byte) domain.OrderResult {
	env, err := decodeEnvelope(body)
	if err != nil {
		return domain.Rejected(domain.FailureMalformed, err.Error())
	}
	if env.Status != "success" {
		return domain.Rejected(domain.FailureRejected, venueError(env))
	}

	var items []placeItemResult
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &items); err != nil {
			var single placeItemResult
			if err2 := json.Unmarshal(env.Data, &single); err2 != nil {
				return domain.Rejected(domain.FailureMalformed, "decode place data: "+err.Error())
			}
			items = []placeItemResult{single}
		}
	}
	if len(items) == 0 {
		return domain.Rejected(domain.FailureRejected, "Success but no data: "+truncate(string(body), maxLoggedBody))
	}

	digests := make([]string, 0, len(items))
	for _, it := range items {
		if it.Digest == "" {
			msg := it.Error
			if msg == "" {
				msg = "Unknown"
			}
			return domain.Rejected(domain.FailureRejected, "Item Error: "+msg)
		}
		digests = append(digests, it.Digest)
	}
	return domain.Accepted(digests...)
}

func (c *Client) recordOrder(action string, res domain.OrderResult) domain.OrderResult {
	metrics.OrderResult(action, res.Success, string(res.Failure))
	return res
}

func (c *Client) resolvePID(pid uint32) uint32 {
	if pid != 0 {
		return pid
	}
	return c.ProductID()
}

func (c *Client) tickFor(pid uint32) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.ticks[pid]; ok && t.IsPositive() {
		return t
	}
	return c.tickSize
}
