package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// peer is one accepted connection.
type peer struct {
	id     string
	conn   *websocket.Conn
	server *Server
	send   chan frame
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	droppedMu sync.Mutex
	dropped   int
}

func (p *peer) readPump() {
	defer p.server.wg.Done()
	defer p.server.removePeer(p)

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		typ, data, err := p.conn.Read(p.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if errors.Is(err, context.Canceled) || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				p.logger.Info(fmt.Sprintf("Server: Peer %s readPump closing gracefully: %v", p.id, err))
			} else {
				p.logger.Info(fmt.Sprintf("Server: Peer %s read error in readPump: %v (status: %d)", p.id, err, status))
			}
			return
		}
		if typ != websocket.MessageText {
			p.logger.Info(fmt.Sprintf("Server: Peer %s sent %d byte binary frame, ignoring", p.id, len(data)))
			continue
		}

		if p.server.config.concurrent {
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				p.reply(p.server.dispatcher.Dispatch(p.ctx, data))
			}()
			continue
		}
		p.reply(p.server.dispatcher.Dispatch(p.ctx, data))
	}
}

// reply queues an answer, waiting for room in the send buffer. Replies are
// never dropped; only the peer going away discards them.
func (p *peer) reply(data []byte) {
	select {
	case p.send <- frame{typ: websocket.MessageText, data: data}:
	case <-p.ctx.Done():
		p.logger.Info(fmt.Sprintf("Server: Peer %s context done, dropping %d byte reply", p.id, len(data)))
	}
}

// trySend queues a pushed frame without blocking. A peer that keeps
// overflowing its buffer is disconnected.
func (p *peer) trySend(f frame) {
	select {
	case p.send <- f:
	case <-p.ctx.Done():
		p.logger.Info(fmt.Sprintf("Server: Peer %s context done, dropping %d byte frame", p.id, len(f.data)))
	default:
		p.droppedMu.Lock()
		p.dropped++
		dropped := p.dropped
		p.droppedMu.Unlock()
		p.logger.Info(fmt.Sprintf("Server: Peer %s send buffer full, frame dropped (%d so far)", p.id, dropped))
		if dropped >= maxDroppedFrames {
			p.logger.Info(fmt.Sprintf("Server: Peer %s dropped %d frames, disconnecting slow peer.", p.id, dropped))
			_ = p.conn.Close(websocket.StatusPolicyViolation, "too many dropped messages")
		}
	}
}

func (p *peer) writePump() {
	defer p.server.wg.Done()
	for {
		select {
		case f := <-p.send:
			writeCtx, cancel := context.WithTimeout(p.ctx, p.server.config.writeTimeout)
			err := p.conn.Write(writeCtx, f.typ, f.data)
			cancel()
			if err != nil {
				p.logger.Info(fmt.Sprintf("Server: Peer %s write error in writePump: %v. Closing connection.", p.id, err))
				_ = p.conn.Close(websocket.StatusInternalError, "write error")
				return
			}
		case <-p.ctx.Done():
			_ = p.conn.Close(websocket.StatusGoingAway, "server closing")
			return
		}
	}
}
