package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"token-risk-lab/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// stream pushes the task status over a websocket every time it changes and
// closes the connection once the task is terminal.
func (s *Server) stream(c *gin.Context) {
	id := c.Param("id")
	task, err := s.svc.Status(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Str("task_id", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain client frames so close and pong are processed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.log.With().Str("task_id", id).Logger()
	log.Debug().Msg("status stream opened")

	send := func(t *domain.AnalysisTask) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(newStatusResponse(t))
	}

	if err := send(task); err != nil {
		return
	}
	last := task

	poll := time.NewTicker(s.poll)
	defer poll.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for !last.Status.IsTerminal() {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			task, err := s.svc.Status(ctx, id)
			if err != nil {
				log.Warn().Err(err).Msg("status poll failed")
				continue
			}
			if !changed(last, task) {
				continue
			}
			if err := send(task); err != nil {
				log.Debug().Err(err).Msg("status stream write failed")
				return
			}
			last = task
		}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(last.Status)))
	log.Debug().Str("status", string(last.Status)).Msg("status stream closed")
}

func changed(prev, next *domain.AnalysisTask) bool {
	return prev.Status != next.Status ||
		prev.CurrentStep != next.CurrentStep ||
		prev.ProgressPercent != next.ProgressPercent ||
		len(prev.IntermediateRisks) != len(next.IntermediateRisks)
}
