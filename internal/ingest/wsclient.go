package ingest

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// wsClient is a reconnecting JSON-RPC websocket client for the chain's
// pubsub endpoint. It owns the connection lifecycle; callers subscribe by
// method name and receive raw notification payloads via callback.
type wsClient struct {
	url string

	mu       sync.Mutex
	conn     *websocket.Conn
	nextID   atomic.Uint64
	pending  map[uint64]chan subscribeReply    // request id -> reply channel, for in-flight subscribe calls
	handlers map[uint64]func(json.RawMessage) // subscription id -> notification handler

	closed atomic.Bool
	done   chan struct{}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type subscribeReply struct {
	result uint64
	err    error
}

type wireMessage struct {
	ID     *uint64         `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params *struct {
		Subscription uint64          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// newWSClient dials the pubsub endpoint and starts its read loop.
func newWSClient(url string) (*wsClient, error) {
	c := &wsClient{
		url:      url,
		pending:  make(map[uint64]chan subscribeReply),
		handlers: make(map[uint64]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.readLoop()
	go c.healthLoop()
	return c, nil
}

func (c *wsClient) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// healthLoop pings the connection every 30s and reconnects on failure.
// A reconnect only opens a new socket and restarts the read loop;
// subscriptions made on the old socket are not re-sent.
func (c *wsClient) healthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Warn().Err(err).Msg("websocket ping failed, reconnecting")
				c.reconnect()
			}
		}
	}
}

func (c *wsClient) reconnect() {
	for attempt := 1; ; attempt++ {
		if c.closed.Load() {
			return
		}
		if err := c.connect(); err != nil {
			backoff := time.Duration(attempt) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("websocket reconnect failed")
			time.Sleep(backoff)
			continue
		}
		log.Info().Msg("websocket reconnected")
		go c.readLoop()
		return
	}
}

func (c *wsClient) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("websocket read error, reconnecting")
			c.reconnect()
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		if msg.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*msg.ID]
			c.mu.Unlock()
			if ok {
				var subID uint64
				var rpcErr error
				if msg.Error != nil {
					rpcErr = fmt.Errorf("%s", msg.Error.Message)
				} else {
					json.Unmarshal(msg.Result, &subID)
				}
				ch <- subscribeReply{result: subID, err: rpcErr}
			}
			continue
		}

		if msg.Params != nil {
			c.mu.Lock()
			handler, ok := c.handlers[msg.Params.Subscription]
			c.mu.Unlock()
			if ok {
				go handler(msg.Params.Result)
			}
		}
	}
}

// subscribe sends method with params and registers handler for the
// notifications that follow, returning the subscription id.
func (c *wsClient) subscribe(method string, params []interface{}, handler func(json.RawMessage)) (uint64, error) {
	id := c.nextID.Add(1)
	reply := make(chan subscribeReply, 1)

	c.mu.Lock()
	c.pending[id] = reply
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return 0, fmt.Errorf("websocket: not connected")
	}

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("write subscribe request: %w", err)
	}

	select {
	case r := <-reply:
		c.mu.Lock()
		delete(c.pending, id)
		if r.err == nil {
			c.handlers[r.result] = handler
		}
		c.mu.Unlock()
		return r.result, r.err
	case <-time.After(10 * time.Second):
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return 0, fmt.Errorf("subscribe timed out")
	}
}

// logsSubscribe subscribes to program-mentions logs for the given address.
func (c *wsClient) logsSubscribe(address string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("logsSubscribe", []interface{}{
		map[string]interface{}{"mentions": []string{address}},
		map[string]interface{}{"commitment": "confirmed"},
	}, handler)
}

// signatureSubscribe subscribes to confirmation status for one signature.
func (c *wsClient) signatureSubscribe(signature string, handler func(json.RawMessage)) (uint64, error) {
	return c.subscribe("signatureSubscribe", []interface{}{
		signature,
		map[string]interface{}{"commitment": "confirmed"},
	}, handler)
}

func (c *wsClient) unsubscribe(unsubMethod string, subID uint64) {
	c.mu.Lock()
	delete(c.handlers, subID)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: unsubMethod, Params: []interface{}{subID}}
	conn.WriteJSON(req)
}

func (c *wsClient) Close() error {
	c.closed.Store(true)
	close(c.done)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
