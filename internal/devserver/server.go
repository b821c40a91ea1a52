package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/tOgg1/campusmarket/internal/clock"
	"github.com/tOgg1/campusmarket/internal/logging"
	"github.com/tOgg1/campusmarket/internal/models"
)

// DefaultHeartbeat is the comment frame interval on open streams.
const DefaultHeartbeat = 15 * time.Second

// Options configures a Server.
type Options struct {
	// Secret signs session and stream tokens.
	Secret []byte

	// Heartbeat is the interval between ":heartbeat" comments.
	Heartbeat time.Duration

	// StreamTokenTTL bounds scoped stream tokens.
	StreamTokenTTL time.Duration

	// DisableStreamTokens makes the token endpoint answer 503, which
	// exercises the client's session-token fallback.
	DisableStreamTokens bool

	Clock  clock.Clock
	Logger *zerolog.Logger
}

// Server exposes a Backend over HTTP.
type Server struct {
	backend   *Backend
	issuer    *Issuer
	app       *fiber.App
	clock     clock.Clock
	heartbeat time.Duration
	noTokens  bool
	logger    zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Server around backend.
func New(backend *Backend, opts Options) (*Server, error) {
	if backend == nil {
		return nil, errors.New("devserver: backend is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	issuer, err := NewIssuer(opts.Secret, opts.StreamTokenTTL, opts.Clock.Now)
	if err != nil {
		return nil, err
	}
	logger := logging.Component("devserver")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		backend:   backend,
		issuer:    issuer,
		clock:     opts.Clock,
		heartbeat: opts.Heartbeat,
		noTokens:  opts.DisableStreamTokens,
		logger:    logger,
		done:      make(chan struct{}),
	}

	app := fiber.New(fiber.Config{
		AppName:               "campusmarketd",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(s.logRequests)

	api := app.Group("/api")
	// The stream authenticates with its query token, not the bearer
	// header, so it is registered ahead of the auth middleware.
	api.Get("/conversations/:id/stream", s.stream)

	api.Use(s.authenticate)
	api.Get("/conversations", s.listConversations)
	api.Get("/conversations/:id/messages", s.listMessages)
	api.Post("/conversations/:id/messages", s.sendMessage)
	api.Patch("/conversations/:id/read", s.markRead)
	api.Post("/conversations/:id/complete-trade", s.completeTrade)
	api.Get("/conversations/:id/token", s.streamToken)

	s.app = app
	return s, nil
}

// Backend returns the served backend.
func (s *Server) Backend() *Backend {
	return s.backend
}

// Issuer returns the token issuer.
func (s *Server) Issuer() *Issuer {
	return s.issuer
}

// App exposes the fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown ends open streams and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	deadline, ok := ctx.Deadline()
	if !ok {
		return s.app.Shutdown()
	}
	return s.app.ShutdownWithTimeout(time.Until(deadline))
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	s.logger.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("elapsed", time.Since(started)).
		Msg("request")
	return err
}

func (s *Server) authenticate(c *fiber.Ctx) error {
	const prefix = "Bearer "
	header := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(header, prefix) {
		return fiber.NewError(fiber.StatusUnauthorized, "missing authorization")
	}
	claims, err := s.issuer.Verify(strings.TrimPrefix(header, prefix))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
	}
	if claims.ConversationID != "" {
		return fiber.NewError(fiber.StatusUnauthorized, "stream tokens cannot call the API")
	}
	c.Locals("user_id", claims.UserID)
	return c.Next()
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"conversations": s.backend.Conversations(userID(c))})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	messages, err := s.backend.Messages(userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"messages": messages})
}

func (s *Server) sendMessage(c *fiber.Ctx) error {
	var req models.OutgoingMessage
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	msg, err := s.backend.Post(userID(c), c.Params("id"), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": msg})
}

func (s *Server) markRead(c *fiber.Ctx) error {
	if err := s.backend.MarkRead(userID(c), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) completeTrade(c *fiber.Ctx) error {
	conv, err := s.backend.CompleteTrade(userID(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"conversation": conv})
}

func (s *Server) streamToken(c *fiber.Ctx) error {
	if s.noTokens {
		return fiber.NewError(fiber.StatusServiceUnavailable, "stream tokens unavailable")
	}
	conversationID := c.Params("id")
	if _, err := s.backend.Conversation(userID(c), conversationID); err != nil {
		return err
	}
	token, err := s.issuer.StreamToken(userID(c), conversationID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"token": token})
}

// stream serves the push channel: a handshake frame, then one data
// frame per new message, with heartbeat comments in between.
func (s *Server) stream(c *fiber.Ctx) error {
	conversationID := c.Params("id")
	claims, err := s.issuer.Verify(c.Query("token"))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid stream token")
	}
	if claims.ConversationID != "" && claims.ConversationID != conversationID {
		return fiber.NewError(fiber.StatusForbidden, "token is scoped to another conversation")
	}

	messages, cancel, err := s.backend.Subscribe(claims.UserID, conversationID)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := logging.WithConversation(s.logger, conversationID).With().Str("user_id", claims.UserID).Logger()
	ticker := s.clock.NewTicker(s.heartbeat)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer ticker.Stop()
		logger.Debug().Msg("stream opened")

		if err := writeData(w, []byte(`{"type":"connected"}`)); err != nil {
			return
		}
		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				if _, err := w.WriteString(":heartbeat\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					logger.Debug().Err(err).Msg("stream closed by client")
					return
				}
			case msg := <-messages:
				data, err := json.Marshal(msg)
				if err != nil {
					logger.Warn().Err(err).Msg("failed to encode message frame")
					continue
				}
				if err := writeData(w, data); err != nil {
					logger.Debug().Err(err).Msg("stream closed by client")
					return
				}
			}
		}
	})
	return nil
}

func writeData(w *bufio.Writer, data []byte) error {
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return w.Flush()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	var validation *models.ValidationErrors
	switch {
	case errors.As(err, &fiberErr):
		status = fiberErr.Code
	case errors.As(err, &validation):
		status = fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, models.ErrAuthorization):
		status = fiber.StatusForbidden
	case errors.Is(err, models.ErrAlreadyCompleted), errors.Is(err, models.ErrConversationClosed):
		status = fiber.StatusConflict
	case errors.Is(err, models.ErrInvalidState):
		status = fiber.StatusBadRequest
	}
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
