package nado

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/shopspring/decimal"
)

// flexString unmarshals from a JSON string or a bare number. The gateway
// sends X18 values as strings but ids and timestamps sometimes as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) x18() decimal.Decimal {
	return domain.FromX18OrZero(string(f))
}

func (f flexString) uint32() uint32 {
	n, err := strconv.ParseUint(strings.TrimSpace(string(f)), 10, 32)
	if err != nil {
		return 0
	}
	return uint32(n)
}

func (f flexString) int64() int64 {
	s := strings.TrimSpace(string(f))
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// --------------------------------------------------------------------------
// Envelope
// --------------------------------------------------------------------------

// response is the envelope shared by /query and /execute.
type response struct {
	Status      string          `json:"status"`
	Data        json.RawMessage `json:"data"`
	Error       string          `json:"error"`
	ErrorCode   flexString      `json:"error_code"`
	RequestType string          `json:"request_type"`
}

// --------------------------------------------------------------------------
// Execute payloads
// --------------------------------------------------------------------------

type wireOrder struct {
	Sender     string `json:"sender"`
	PriceX18   string `json:"priceX18"`
	Amount     string `json:"amount"`
	Expiration string `json:"expiration"`
	Nonce      string `json:"nonce"`
	Appendix   string `json:"appendix"`
}

type placeOrderItem struct {
	ProductID uint32    `json:"product_id"`
	Order     wireOrder `json:"order"`
	Signature string    `json:"signature"`
}

type placeOrdersRequest struct {
	PlaceOrders struct {
		Orders []placeOrderItem `json:"orders"`
	} `json:"place_orders"`
}

type cancelTx struct {
	Sender     string   `json:"sender"`
	ProductIDs []uint32 `json:"productIds"`
	Digests    []string `json:"digests"`
	Nonce      string   `json:"nonce"`
}

type cancelOrdersRequest struct {
	CancelOrders struct {
		Tx        cancelTx `json:"tx"`
		Signature string   `json:"signature"`
	} `json:"cancel_orders"`
}

// placeItemResult is one element of a place_orders response's data array.
type placeItemResult struct {
	Digest string `json:"digest"`
	Error  string `json:"error"`
}

// --------------------------------------------------------------------------
// Query responses
// --------------------------------------------------------------------------

type apiProduct struct {
	ProductID      flexString `json:"product_id"`
	OraclePriceX18 flexString `json:"oracle_price_x18"`
}

type allProductsData struct {
	SpotProducts []apiProduct `json:"spot_products"`
	PerpProducts []apiProduct `json:"perp_products"`
}

type contractsData struct {
	ChainID      flexString `json:"chain_id"`
	EndpointAddr string     `json:"endpoint_addr"`
}

type apiSymbol struct {
	Type              string     `json:"type"`
	ProductID         flexString `json:"product_id"`
	Symbol            string     `json:"symbol"`
	PriceIncrementX18 flexString `json:"price_increment_x18"`
	SizeIncrement     flexString `json:"size_increment"`
	MinSize           flexString `json:"min_size"`
}

type symbolsData struct {
	Symbols map[string]apiSymbol `json:"symbols"`
}

// liquidityData is the market_liquidity shape; each level is [priceX18, sizeX18].
type liquidityData struct {
	Bids      [][2]flexString `json:"bids"`
	Asks      [][2]flexString `json:"asks"`
	Timestamp flexString      `json:"timestamp"`
}

type apiOrderDetails struct {
	Amount      *flexString `json:"amount"`
	PriceX18    *flexString `json:"priceX18"`
	PriceX18Alt *flexString `json:"price_x18"`
	Digest      string      `json:"digest"`
}

// apiOrder accepts both {"order": {...}, "digest": ...} and a flat row.
type apiOrder struct {
	apiOrderDetails
	ProductID flexString       `json:"product_id"`
	Order     *apiOrderDetails `json:"order"`
}

type subaccountOrdersData struct {
	Sender    string     `json:"sender"`
	ProductID flexString `json:"product_id"`
	Orders    []apiOrder `json:"orders"`
}

type apiBalance struct {
	Amount        flexString `json:"amount"`
	VQuoteBalance flexString `json:"v_quote_balance"`
}

type apiBalanceRow struct {
	ProductID flexString `json:"product_id"`
	Balance   apiBalance `json:"balance"`
}

type apiHealth struct {
	Assets      flexString `json:"assets"`
	Liabilities flexString `json:"liabilities"`
	Health      flexString `json:"health"`
}

type subaccountInfoData struct {
	Subaccount   string          `json:"subaccount"`
	Exists       bool            `json:"exists"`
	Healths      []apiHealth     `json:"healths"`
	SpotBalances []apiBalanceRow `json:"spot_balances"`
	PerpBalances []apiBalanceRow `json:"perp_balances"`
	SpotProducts []apiProduct    `json:"spot_products"`
	PerpProducts []apiProduct    `json:"perp_products"`
}

type apiMatch struct {
	ProductID flexString `json:"product_id"`
	Amount    flexString `json:"amount"`
	Price     flexString `json:"price"`
	Timestamp flexString `json:"timestamp"`
	Digest    string     `json:"digest"`
	SubmIdx   flexString `json:"submission_idx"`
}

type matchesData struct {
	Matches []apiMatch `json:"matches"`
}

// --------------------------------------------------------------------------
// Converters
// --------------------------------------------------------------------------

// toDomain maps a resting order; ok is false when amount or price is absent.
func (o apiOrder) toDomain(fallbackPID uint32) (domain.OrderInfo, bool) {
	d := o.apiOrderDetails
	if o.Order != nil {
		if o.Order.Amount != nil {
			d.Amount = o.Order.Amount
		}
		if o.Order.PriceX18 != nil {
			d.PriceX18 = o.Order.PriceX18
		}
		if o.Order.PriceX18Alt != nil {
			d.PriceX18Alt = o.Order.PriceX18Alt
		}
		if d.Digest == "" {
			d.Digest = o.Order.Digest
		}
	}
	price := d.PriceX18
	if price == nil {
		price = d.PriceX18Alt
	}
	if d.Amount == nil || price == nil {
		return domain.OrderInfo{}, false
	}
	amt, err := domain.FromX18(string(*d.Amount))
	if err != nil {
		return domain.OrderInfo{}, false
	}
	px, err := domain.FromX18(string(*price))
	if err != nil {
		return domain.OrderInfo{}, false
	}
	pid := o.ProductID.uint32()
	if pid == 0 {
		pid = fallbackPID
	}
	return domain.OrderInfo{Digest: d.Digest, ProductID: pid, Price: px, Amount: amt}, true
}

func (d subaccountInfoData) toDomain() domain.AccountSnapshot {
	snap := domain.AccountSnapshot{OraclePrices: make(map[uint32]decimal.Decimal)}
	for _, s := range d.SpotBalances {
		snap.Spot = append(snap.Spot, domain.SpotBalance{
			ProductID: s.ProductID.uint32(),
			Amount:    s.Balance.Amount.x18(),
		})
	}
	for _, p := range d.PerpBalances {
		snap.Perps = append(snap.Perps, domain.PerpBalance{
			ProductID: p.ProductID.uint32(),
			Amount:    p.Balance.Amount.x18(),
			VQuote:    p.Balance.VQuoteBalance.x18(),
		})
	}
	for _, p := range d.PerpProducts {
		if p.OraclePriceX18 == "" {
			continue
		}
		snap.OraclePrices[p.ProductID.uint32()] = p.OraclePriceX18.x18()
	}
	if len(d.Healths) > 0 {
		snap.Health = d.Healths[0].Health.x18()
		snap.HasHealth = true
	}
	return snap
}

func levelsToDomain(raw [][2]flexString) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(raw))
	for _, l := range raw {
		px, err := domain.FromX18(string(l[0]))
		if err != nil {
			continue
		}
		sz, err := domain.FromX18(string(l[1]))
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: px, Size: sz})
	}
	return out
}
