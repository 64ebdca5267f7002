package api

import (
	"context"
	"net/http"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/matching"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// MatchRequest is the body of a match call
type MatchRequest struct {
	Patient        *domain.PatientProfile `json:"patient" validate:"required"`
	MaxResults     int                    `json:"max_results,omitempty" validate:"gte=0"`
	MinConfidence  *float64               `json:"min_confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	TimeoutSeconds int                    `json:"timeout_seconds,omitempty" validate:"gte=0,lte=300"`
}

// options validates the request and converts it into orchestrator options
func (r *MatchRequest) options(requestID string) (matching.MatchOptions, error) {
	opts := matching.MatchOptions{
		MaxResults:    r.MaxResults,
		MinConfidence: r.MinConfidence,
		RequestID:     requestID,
	}
	if err := domain.ValidateStruct(r); err != nil {
		return opts, err
	}
	if r.TimeoutSeconds > 0 {
		opts.Deadline = time.Now().Add(time.Duration(r.TimeoutSeconds) * time.Second)
	}
	return opts, nil
}

// handleMatch runs one match request synchronously
func (s *Server) handleMatch(c *gin.Context) {
	var req MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, bindError(err), nil)
		return
	}
	opts, err := req.options(requestID(c))
	if err != nil {
		s.respondError(c, err, nil)
		return
	}

	outcome, err := s.app.Orchestrator.Execute(c.Request.Context(), req.Patient, opts)
	if err != nil {
		s.respondError(c, err, gin.H{"metadata": outcome.Metadata})
		return
	}
	c.JSON(http.StatusOK, outcome)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browsers are gated by the CORS middleware; non-browser clients send no Origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is one frame sent on the match stream
type streamMessage struct {
	Type    string               `json:"type"`
	Event   *matching.Event      `json:"event,omitempty"`
	Outcome *domain.MatchOutcome `json:"outcome,omitempty"`
	Error   *domain.APIError     `json:"error,omitempty"`
}

// handleMatchStream upgrades to a websocket, reads one MatchRequest and streams
// progress events followed by a single result or error frame.
func (s *Server) handleMatchStream(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{"X-Request-ID": {requestID(c)}})
	if err != nil {
		s.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	id := requestID(c)
	log := s.logger.WithField("request_id", id)

	var req MatchRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeFrame(conn, streamMessage{Type: "error", Error: domain.APIErrorFrom(bindError(err), id)})
		return
	}
	opts, err := req.options(id)
	if err != nil {
		writeFrame(conn, streamMessage{Type: "error", Error: domain.APIErrorFrom(err, id)})
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Cancel the match when the client goes away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	opts.Observer = func(e matching.Event) {
		ev := e
		if err := writeFrame(conn, streamMessage{Type: "event", Event: &ev}); err != nil {
			cancel()
		}
	}

	outcome, err := s.app.Orchestrator.Execute(ctx, req.Patient, opts)
	if err != nil {
		log.WithField("error_kind", domain.KindOf(err)).Debug("Streamed match failed")
		writeFrame(conn, streamMessage{Type: "error", Outcome: outcome, Error: domain.APIErrorFrom(err, id)})
		return
	}
	if err := writeFrame(conn, streamMessage{Type: "result", Outcome: outcome}); err != nil {
		log.WithError(err).Debug("Client left before the result was sent")
		return
	}
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, msg streamMessage) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// handleGetMatchHistory returns a stored match request and its ranked results
func (s *Server) handleGetMatchHistory(c *gin.Context) {
	if s.app.History == nil {
		s.respondError(c, domain.ErrNotFound, nil)
		return
	}
	ctx := c.Request.Context()
	id := c.Param("request_id")

	record, err := s.app.History.GetRequest(ctx, id)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	results, err := s.app.History.ListByRequest(ctx, id)
	if err != nil {
		s.respondError(c, err, nil)
		return
	}
	s.logger.WithFields(logrus.Fields{"request_id": requestID(c), "history_id": id}).Debug("Served match history")
	c.JSON(http.StatusOK, gin.H{"request": record, "results": results})
}
