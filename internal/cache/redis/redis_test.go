package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nadobot/internal/domain"
	"github.com/shopspring/decimal"
)

func TestBookKeys(t *testing.T) {
	assert.Equal(t, "book:4:bids", bookBidsKey(4))
	assert.Equal(t, "book:4:asks", bookAsksKey(4))
	assert.Equal(t, "book:34:bid:size", bookBidSizeKey(34))
	assert.Equal(t, "book:34:ask:size", bookAskSizeKey(34))
	assert.Equal(t, "book:2:meta", bookMetaKey(2))
	assert.Equal(t, "lock:engine:0xabc", lockKey("engine:0xabc"))
	assert.Equal(t, "ratelimit:execute", rateLimitKey("execute"))
}

func TestLevelMemberKeepsExactPrice(t *testing.T) {
	member, score := levelMember(decimal.RequireFromString("3000.10"))
	assert.Equal(t, "3000.1", member)
	assert.InDelta(t, 3000.1, score, 1e-9)
}

func TestParseLevels(t *testing.T) {
	sizes := map[string]string{"3001.5": "0.2", "3001": "1.5", "bad": "1"}
	levels := parseLevels([]string{"3001.5", "3001", "bad", "2999"}, sizes)

	require.Len(t, levels, 2, "unparseable and sizeless members are skipped")
	assert.True(t, levels[0].Price.Equal(decimal.RequireFromString("3001.5")))
	assert.True(t, levels[0].Size.Equal(decimal.RequireFromString("0.2")))
	assert.True(t, levels[1].Price.Equal(decimal.RequireFromString("3001")))
}

func TestRefreshEvery(t *testing.T) {
	assert.Equal(t, 10*time.Second, refreshEvery(30*time.Second))
	assert.Equal(t, time.Duration(2), refreshEvery(2))
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientConfig{URL: "redis://:secret@cache:6380/3", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)

	opts, err = ClientConfig{Addr: "localhost:6379", TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.NotNil(t, opts.TLSConfig)

	_, err = ClientConfig{URL: "http://nope"}.options()
	assert.Error(t, err)
}

func TestDecodeEvent(t *testing.T) {
	ev := domain.EngineEvent{ID: "e1", Kind: domain.EventFill, Level: "info", Message: "filled"}
	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := decodeEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, domain.EventFill, got.Kind)

	_, err = decodeEvent([]byte("{"))
	assert.Error(t, err)
}

func TestDecodeEventsKeepsOrderAndSkipsBadPayloads(t *testing.T) {
	first, err := json.Marshal(domain.EngineEvent{ID: "a", Kind: domain.EventQuote})
	require.NoError(t, err)
	second, err := json.Marshal(domain.EngineEvent{ID: "b", Kind: domain.EventFill})
	require.NoError(t, err)

	got := decodeEvents([]domain.StreamMessage{
		{ID: "1-0", Payload: first},
		{ID: "2-0", Payload: []byte("not json")},
		{ID: "3-0", Payload: second},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
	assert.Empty(t, decodeEvents(nil))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.False(t, hasPattern(EventsChannel))
}
