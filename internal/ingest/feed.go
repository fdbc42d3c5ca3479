package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"putup-system/internal/graph"
	"putup-system/internal/markethours"
	"putup-system/internal/model"
)

// Frame is one websocket message from the staging bar server. Exactly one
// of Bar and Tick is set:
//
//	{"security":{"ticker":"AAPL","market":"NYSE"},"bar":{"ts":1767623400000,"open":101.5,...}}
//	{"security":{"ticker":"AAPL","market":"NYSE"},"tick":{"side":"LAST","price":101500,"size":10,"tick_ts":"..."}}
type Frame struct {
	Security model.Security `json:"security"`
	Bar      *model.Bar     `json:"bar,omitempty"`
	Tick     *model.Tick    `json:"tick,omitempty"`
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	// URL of the bar server, e.g. "ws://localhost:9001/ws".
	URL string

	// ReconnectDelay is the initial backoff. Defaults to 2s.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// Exchanges resolves broker date strings per market. Markets missing
	// here fall back to the built-in exchanges, then UTC.
	Exchanges map[string]*markethours.Exchange
}

func (c *FeedConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed reads frames from a websocket bar server. Bars become samples
// directly, ticks go to the aggregator.
type Feed struct {
	cfg FeedConfig

	// Optional hooks
	OnConnect   func()
	OnReconnect func()
}

// NewFeed returns an error if the URL is unparseable.
func NewFeed(cfg FeedConfig) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.New("ingest: feed url must be ws:// or wss://")
	}
	return &Feed{cfg: cfg}, nil
}

// Start streams until ctx is cancelled, reconnecting with exponential
// backoff. tickCh may be nil, in which case tick frames are dropped.
func (f *Feed) Start(ctx context.Context, out chan<- Sample, tickCh chan<- model.Tick) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		err := f.runOnce(ctx, out, tickCh)
		if err == nil {
			return nil
		}

		log.Printf("[feed] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes one connection and reads until disconnect or ctx ends.
func (f *Feed) runOnce(ctx context.Context, out chan<- Sample, tickCh chan<- model.Tick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Printf("[feed] connected to %s", f.cfg.URL)
	if f.OnConnect != nil {
		f.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return err
		}

		var fr Frame
		if err := json.Unmarshal(raw, &fr); err != nil {
			log.Printf("[feed] parse error: %v (raw: %s)", err, raw)
			continue
		}
		if fr.Security.Ticker == "" {
			log.Printf("[feed] skipping frame without security")
			continue
		}

		switch {
		case fr.Bar != nil:
			fr.Bar.RealTime = true
			p, err := graph.FromBar(fr.Bar, f.location(fr.Security.Market))
			if err != nil {
				log.Printf("[feed] %s: %v", fr.Security.Key(), err)
				continue
			}
			select {
			case out <- Sample{Security: fr.Security, Point: p}:
			default:
				log.Println("[feed] sample channel full, dropping bar")
			}
		case fr.Tick != nil && tickCh != nil:
			fr.Tick.Security = fr.Security
			select {
			case tickCh <- *fr.Tick:
			default:
				log.Println("[feed] tickCh full, dropping tick")
			}
		}
	}
}

func (f *Feed) location(market string) *time.Location {
	if ex, ok := f.cfg.Exchanges[market]; ok {
		return ex.Location
	}
	if ex, ok := markethours.Builtin(market); ok {
		return ex.Location
	}
	return time.UTC
}
