package main

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	jsonrpc "github.com/tendermint/tendermint/rpc/jsonrpc/types"
)

const (
	sendTimeout = 10 * time.Second
	// 服务端的pong等待时间是30s
	pingPeriod = (30 * 9 / 10) * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// roundView round接口返回内容中关心的部分
type roundView struct {
	RoundState struct {
		Height uint64 `json:"height"`
		Step   string `json:"step"`
		Key    struct {
			PackingIndexOfRound uint32 `json:"packing_index_of_round"`
			VoteRoundIndex      uint32 `json:"vote_round_index"`
		} `json:"key"`
		Round *struct {
			Index     uint64 `json:"index"`
			StartTime uint64 `json:"start_time"`
			Members   []struct {
				PackingAddress string  `json:"packing_address"`
				CreditVal      float64 `json:"credit_val"`
			} `json:"members"`
		} `json:"round"`
	} `json:"round_state"`
}

// watcher 通过websocket定期查询一个节点的轮次
type watcher struct {
	Target string
	Period time.Duration

	conn    *websocket.Conn
	wg      sync.WaitGroup
	mtx     sync.Mutex
	stopped bool
	quit    chan struct{}

	lastHeight uint64
	lastRound  uint64

	logger log.Logger
}

func newWatcher(target string, period time.Duration) *watcher {
	return &watcher{
		Target: target,
		Period: period,
		quit:   make(chan struct{}),
		logger: log.NewNopLogger(),
	}
}

func (w *watcher) SetLogger(l log.Logger) {
	w.logger = l
}

func connect(host string) (*websocket.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: host, Path: "/websocket"}
	return websocket.DefaultDialer.Dial(u.String(), nil)
}

func (w *watcher) Start() error {
	c, resp, err := connect(w.Target)
	if err != nil {
		return errors.Wrapf(err, "connect %s", w.Target)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	w.conn = c

	w.wg.Add(2)
	go w.sendLoop()
	go w.receiveLoop()
	return nil
}

func (w *watcher) Stop() {
	w.mtx.Lock()
	if w.stopped {
		w.mtx.Unlock()
		return
	}
	w.stopped = true
	w.mtx.Unlock()

	close(w.quit)
	w.conn.Close()
	w.wg.Wait()
}

func (w *watcher) isStopped() bool {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.stopped
}

func (w *watcher) receiveLoop() {
	defer w.wg.Done()
	for {
		_, bz, err := w.conn.ReadMessage()
		if err != nil {
			if !w.isStopped() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.logger.Error("Failed to read response", "err", err)
			}
			return
		}
		var resp jsonrpc.RPCResponse
		if err := json.Unmarshal(bz, &resp); err != nil {
			w.logger.Error("Bad response", "err", err)
			continue
		}
		if resp.Error != nil {
			w.logger.Error("RPC error", "id", resp.ID, "err", resp.Error)
			continue
		}
		w.handleRound(resp.Result)
	}
}

func (w *watcher) handleRound(raw []byte) {
	var view roundView
	if err := json.Unmarshal(raw, &view); err != nil {
		w.logger.Error("Bad round result", "err", err)
		return
	}
	rs := view.RoundState
	if rs.Round == nil {
		w.logger.Info("Round not initialized", "height", rs.Height, "step", rs.Step)
		return
	}
	if rs.Round.Index != w.lastRound {
		w.lastRound = rs.Round.Index
		for i, m := range rs.Round.Members {
			w.logger.Info("Round member", "round", rs.Round.Index, "pos", i+1,
				"address", m.PackingAddress, "credit", m.CreditVal)
		}
	}
	if rs.Height != w.lastHeight || rs.Key.VoteRoundIndex > 0 {
		w.lastHeight = rs.Height
		w.logger.Info("Round state", "height", rs.Height, "round", rs.Round.Index, "start", rs.Round.StartTime,
			"slot", rs.Key.PackingIndexOfRound, "vri", rs.Key.VoteRoundIndex, "step", rs.Step)
	}
}

func (w *watcher) sendLoop() {
	defer w.wg.Done()

	w.conn.SetPingHandler(func(message string) error {
		err := w.conn.WriteControl(websocket.PongMessage, []byte(message), time.Now().Add(sendTimeout))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	ticker := time.NewTicker(w.Period)
	pingTicker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer pingTicker.Stop()

	for id := 0; ; id++ {
		select {
		case <-ticker.C:
			req := jsonrpc.RPCRequest{
				JSONRPC: "2.0",
				ID:      jsonrpc.JSONRPCIntID(id),
				Method:  "round",
				Params:  []byte("{}"),
			}
			w.conn.SetWriteDeadline(time.Now().Add(sendTimeout)) //nolint:errcheck
			if err := w.conn.WriteJSON(req); err != nil {
				w.logger.Error("Failed to send request", "err", err)
				return
			}
		case <-pingTicker.C:
			w.conn.SetWriteDeadline(time.Now().Add(sendTimeout)) //nolint:errcheck
			if err := w.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				w.logger.Error("Failed to write ping message", "err", err)
				return
			}
		case <-w.quit:
			w.conn.SetWriteDeadline(time.Now().Add(sendTimeout)) //nolint:errcheck
			w.conn.WriteMessage(websocket.CloseMessage,          //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
