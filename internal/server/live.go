package server

import (
	"context"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tallyworks/tallyd/internal/counter/domain"
)

// liveSink forwards broadcast frames into a per-connection buffer. Sends
// never block the coalescer; a subscriber that cannot keep up loses frames.
type liveSink struct {
	frames chan domain.Frame
}

func newLiveSink() *liveSink {
	return &liveSink{frames: make(chan domain.Frame, 16)}
}

func (s *liveSink) Send(f domain.Frame) error {
	select {
	case s.frames <- f:
		return nil
	default:
		return errors.New("subscriber buffer full")
	}
}

// LiveUpdates upgrades the request to a websocket and streams dashboard
// frames for the subscriber's selected date. New connections start on the
// current UTC date until the client sends a setClientDate message.
func (s *Server) LiveUpdates(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	sink := newLiveSink()
	id := s.registry.Add(sink, domain.DateOf(s.clock.Now()))
	defer s.registry.Remove(id)

	log := s.log.With(zap.String("subscriber", id))
	log.Info("live subscriber connected")
	defer log.Info("live subscriber disconnected")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		s.writeFrames(ctx, conn, sink)
	}()

	// A fresh subscriber gets a frame without having to ask for one.
	s.caster.RequestBroadcast()

	s.readMessages(ctx, conn, id, sink)
	cancel()
	<-writeDone
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) writeFrames(ctx context.Context, conn *websocket.Conn, sink *liveSink) {
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-sink.frames:
			if err := wsjson.Write(ctx, conn, frame); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		}
	}
}

func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, id string, sink *liveSink) {
	for {
		var msg domain.ClientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case domain.MsgSetDate:
			date, err := domain.ParseDate(msg.Date)
			if err != nil {
				s.log.Debug("ignoring invalid subscriber date",
					zap.String("subscriber", id),
					zap.String("date", msg.Date),
				)
				continue
			}
			s.registry.SetDate(id, date)
			s.reconciler.Kick(date)
			s.caster.RequestBroadcast()
		case domain.MsgRequestData:
			s.caster.RequestBroadcast()
		case domain.MsgPing:
			_ = sink.Send(domain.Frame{Type: domain.FramePong})
		}
	}
}
