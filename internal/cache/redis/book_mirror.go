package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// bookTTL expires a mirror whose writer went away.
const bookTTL = 30 * time.Second

// BookMirror implements domain.BookMirror with one sorted set and one size
// hash per side.
//
// Key schema:
//
//	book:{productID}:bids     - sorted set of bid prices (score = price)
//	book:{productID}:asks     - sorted set of ask prices (score = price)
//	book:{productID}:bid:size - hash mapping price -> size for bids
//	book:{productID}:ask:size - hash mapping price -> size for asks
//	book:{productID}:meta     - hash with "ts" field (mirror time, unix nanos)
type BookMirror struct {
	rdb *redis.Client
}

// NewBookMirror creates a BookMirror backed by the given Client.
func NewBookMirror(c *Client) *BookMirror {
	return &BookMirror{rdb: c.Underlying()}
}

func bookPrefix(productID uint32) string { return "book:" + strconv.FormatUint(uint64(productID), 10) }

func bookBidsKey(productID uint32) string    { return bookPrefix(productID) + ":bids" }
func bookAsksKey(productID uint32) string    { return bookPrefix(productID) + ":asks" }
func bookBidSizeKey(productID uint32) string { return bookPrefix(productID) + ":bid:size" }
func bookAskSizeKey(productID uint32) string { return bookPrefix(productID) + ":ask:size" }
func bookMetaKey(productID uint32) string    { return bookPrefix(productID) + ":meta" }

// MirrorBook atomically replaces the mirrored top of book for a product.
func (m *BookMirror) MirrorBook(ctx context.Context, productID uint32, bids, asks []domain.PriceLevel) error {
	keys := []string{
		bookBidsKey(productID), bookAsksKey(productID),
		bookBidSizeKey(productID), bookAskSizeKey(productID),
		bookMetaKey(productID),
	}

	pipe := m.rdb.TxPipeline()
	pipe.Del(ctx, keys...)
	writeSide(ctx, pipe, keys[0], keys[2], bids)
	writeSide(ctx, pipe, keys[1], keys[3], asks)
	pipe.HSet(ctx, keys[4], "ts", strconv.FormatInt(time.Now().UnixNano(), 10))
	for _, k := range keys {
		pipe.Expire(ctx, k, bookTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: mirror book %d: %w", productID, err)
	}
	return nil
}

func writeSide(ctx context.Context, pipe redis.Pipeliner, zKey, hKey string, levels []domain.PriceLevel) {
	for _, lvl := range levels {
		member, score := levelMember(lvl.Price)
		pipe.ZAdd(ctx, zKey, redis.Z{Score: score, Member: member})
		pipe.HSet(ctx, hKey, member, lvl.Size.String())
	}
}

// levelMember is the canonical string of a price and its float score. The
// string, not the score, is authoritative when reading back.
func levelMember(price decimal.Decimal) (string, float64) {
	f, _ := price.Float64()
	return price.String(), f
}

// ReadBook returns up to depth levels per side, best first. It returns
// domain.ErrNotFound when nothing is mirrored for the product.
func (m *BookMirror) ReadBook(ctx context.Context, productID uint32, depth int) (bids, asks []domain.PriceLevel, err error) {
	stop := int64(depth) - 1
	if depth <= 0 {
		stop = -1
	}

	pipe := m.rdb.Pipeline()
	bidsCmd := pipe.ZRevRange(ctx, bookBidsKey(productID), 0, stop)
	asksCmd := pipe.ZRange(ctx, bookAsksKey(productID), 0, stop)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(productID))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(productID))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(productID))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, nil, fmt.Errorf("redis: read book %d: %w", productID, err)
	}
	if meta, _ := metaCmd.Result(); len(meta) == 0 {
		return nil, nil, domain.ErrNotFound
	}

	bidSizes, _ := bidSizeCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	bidPrices, _ := bidsCmd.Result()
	askPrices, _ := asksCmd.Result()
	return parseLevels(bidPrices, bidSizes), parseLevels(askPrices, askSizes), nil
}

// parseLevels pairs ordered price members with their sizes, skipping any
// member that does not parse.
func parseLevels(prices []string, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(prices))
	for _, p := range prices {
		price, err := decimal.NewFromString(p)
		if err != nil {
			continue
		}
		size, err := decimal.NewFromString(sizes[p])
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Size: size})
	}
	return out
}

// Compile-time interface check.
var _ domain.BookMirror = (*BookMirror)(nil)
