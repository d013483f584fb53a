package nado

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/alanyoungcy/nadobot/internal/domain"
)

// StreamEventKind classifies a decoded stream frame.
type StreamEventKind int

const (
	StreamOther StreamEventKind = iota
	StreamPing
	StreamDepth
	StreamFill
	StreamError
)

func (k StreamEventKind) String() string {
	switch k {
	case StreamPing:
		return "ping"
	case StreamDepth:
		return "depth"
	case StreamFill:
		return "fill"
	case StreamError:
		return "error"
	}
	return "other"
}

var (
	depthFrameTypes = map[string]bool{"depth": true, "snapshot": true, "book_depth": true}
	fillFrameTypes  = map[string]bool{
		"fill": true, "match": true, "order_update": true, "trade": true,
		"order": true, "position": true, "account": true,
	}
)

// StreamCommand is an outbound stream frame.
type StreamCommand struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Time    json.RawMessage `json:"time,omitempty"`
}

// StreamEvent is one classified inbound frame.
type StreamEvent struct {
	Kind     StreamEventKind
	Type     string
	Channel  string
	PingTime json.RawMessage
	Depth    domain.DepthSnapshot
	Fill     domain.Fill
}

type streamFrame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Time    json.RawMessage `json:"time"`
	Data    json.RawMessage `json:"data"`
	liquidityData
}

type streamFill struct {
	ProductID flexString `json:"product_id"`
	Amount    flexString `json:"amount"`
	Price     flexString `json:"price"`
	OrderID   flexString `json:"order_id"`
}

// DepthChannel is the public depth channel of a product.
func DepthChannel(productID uint32) string {
	return fmt.Sprintf("depth.%d", productID)
}

// FillsChannel is the private fills channel of a sub-account in wire form.
func FillsChannel(sender string) string {
	return "fills." + sender
}

// Subscribe builds a subscribe frame.
func Subscribe(channel string) StreamCommand {
	return StreamCommand{Type: "subscribe", Channel: channel}
}

// Pong answers a ping, echoing its time field.
func Pong(pingTime json.RawMessage) StreamCommand {
	return StreamCommand{Type: "pong", Time: pingTime}
}

// StreamHeaders are the handshake headers the stream endpoint expects.
func StreamHeaders() http.Header {
	h := http.Header{}
	h.Set("Origin", appOrigin)
	h.Set("User-Agent", userAgent)
	return h
}

// DecodeStreamFrame classifies raw by its "type" field, falling back to
// "event". Depth levels and fill prices are converted from X18; a fill's
// amount is X18 too. Payloads may be wrapped in "data" or sit at the root.
func DecodeStreamFrame(raw []byte, productID uint32) (StreamEvent, error) {
	var f streamFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return StreamEvent{}, fmt.Errorf("nado/stream: decode frame: %w: %v", domain.ErrMalformed, err)
	}
	typ := f.Type
	if typ == "" {
		typ = f.Event
	}
	ev := StreamEvent{Type: typ, Channel: f.Channel}

	switch {
	case typ == "ping":
		ev.Kind = StreamPing
		ev.PingTime = f.Time
	case depthFrameTypes[typ] || (typ == "quote-event" && strings.Contains(f.Channel, "depth")):
		ev.Kind = StreamDepth
		liq := f.liquidityData
		if isObject(f.Data) {
			var inner liquidityData
			if err := json.Unmarshal(f.Data, &inner); err != nil {
				return StreamEvent{}, fmt.Errorf("nado/stream: decode depth: %w: %v", domain.ErrMalformed, err)
			}
			liq = inner
		}
		ev.Depth = domain.DepthSnapshot{
			ProductID: productID,
			Bids:      levelsToDomain(liq.Bids),
			Asks:      levelsToDomain(liq.Asks),
		}
		if ts := liq.Timestamp.int64(); ts > 0 {
			ev.Depth.Timestamp = unixAuto(ts)
		}
	case fillFrameTypes[typ]:
		ev.Kind = StreamFill
		body := json.RawMessage(raw)
		if isObject(f.Data) {
			body = f.Data
		}
		var sf streamFill
		if err := json.Unmarshal(body, &sf); err != nil {
			return StreamEvent{}, fmt.Errorf("nado/stream: decode fill: %w: %v", domain.ErrMalformed, err)
		}
		var rawMap map[string]any
		_ = json.Unmarshal(body, &rawMap)
		ev.Fill = domain.Fill{
			ProductID: sf.ProductID.uint32(),
			Amount:    sf.Amount.x18(),
			Price:     sf.Price.x18(),
			OrderID:   string(sf.OrderID),
			Raw:       rawMap,
		}
		if ev.Fill.OrderID == "" {
			ev.Fill.OrderID = "unknown"
		}
	case typ == "error":
		ev.Kind = StreamError
	default:
		ev.Kind = StreamOther
	}
	return ev, nil
}

func isObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "{")
}
