// Package finnhub streams US trades from the Finnhub WebSocket API.
package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"MarketPulse/internal/domain/models"
	applogger "MarketPulse/pkg/logger"
)

// SourceID tags events produced by this stream.
const SourceID = "finnhub"

var errNotConnected = errors.New("finnhub: not connected")

type Config struct {
	APIKey string
	URL    string
	// Symbols maps Finnhub instruments onto the market symbol their events
	// are tagged with.
	Symbols        map[string]string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	// Buffer is the event channel size; events beyond it are dropped.
	Buffer int
}

// Client is a MarketStream over one WebSocket connection.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *applogger.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

func New(cfg Config, logger *applogger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if logger == nil {
		logger = applogger.Nop()
	}
	return &Client{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("finnhub url: %w", err)
	}
	q := u.Query()
	q.Set("token", c.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) Connect(ctx context.Context) error {
	addr, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	// a missed pong within two ping periods marks the connection dead
	deadline := 2 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("finnhub connected", applogger.Int("symbols", len(c.cfg.Symbols)))
	return nil
}

// Subscribe requests trades for every configured instrument.
func (c *Client) Subscribe(ctx context.Context) error {
	instruments := make([]string, 0, len(c.cfg.Symbols))
	for s := range c.cfg.Symbols {
		instruments = append(instruments, s)
	}
	sort.Strings(instruments)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errNotConnected
	}
	for _, s := range instruments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.conn.WriteJSON(subscribeMsg{Type: "subscribe", Symbol: s}); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.logger.Info("finnhub subscribed", applogger.Strings("instruments", instruments))
	return nil
}

type subscribeMsg struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type trade struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	TimeMs int64   `json:"t"`
}

type frame struct {
	Type string  `json:"type"`
	Data []trade `json:"data"`
}

// decode turns a trade frame into events. Other frame types and unmapped
// instruments yield nothing.
func (c *Client) decode(b []byte) []*models.MarketEvent {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil || f.Type != "trade" {
		return nil
	}
	out := make([]*models.MarketEvent, 0, len(f.Data))
	for _, t := range f.Data {
		market, ok := c.cfg.Symbols[t.Symbol]
		if !ok {
			continue
		}
		out = append(out, &models.MarketEvent{
			SourceID:  SourceID,
			Symbol:    market,
			Kind:      models.KindRealtime,
			Price:     t.Price,
			Timestamp: time.UnixMilli(t.TimeMs),
			Volume:    models.Float(t.Volume),
		})
	}
	return out
}

// Read streams events until ctx is done or the connection fails. The error
// channel carries at most one error; both channels close when reading stops.
func (c *Client) Read(ctx context.Context) (<-chan *models.MarketEvent, <-chan error) {
	events := make(chan *models.MarketEvent, c.cfg.Buffer)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(events)
		return events, errs
	}

	done := make(chan struct{})
	go c.keepAlive(ctx, conn, done)
	go func() {
		defer close(events)
		defer close(errs)
		defer close(done)
		dropped := 0
		for ctx.Err() == nil {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			for _, ev := range c.decode(b) {
				select {
				case events <- ev:
				default:
					dropped++
					if dropped%1000 == 1 {
						c.logger.Warn("finnhub events dropped", applogger.Int("dropped", dropped))
					}
				}
			}
		}
	}()
	return events, errs
}

func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-t.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("finnhub ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect drops the connection, waits the reconnect delay and subscribes
// again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	t := time.NewTimer(c.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
