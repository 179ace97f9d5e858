// Package server exposes the protocol core over HTTP. Callers identify
// themselves with a hex address in the request body; there is no session
// layer, signature checking belongs to a gateway in front of this service.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"lendsure/internal/config"
	"lendsure/internal/core"
	"lendsure/internal/protocol"
)

// Server runs the HTTP API.
type Server struct {
	app    *fiber.App
	cfg    config.ServerConfig
	logger zerolog.Logger
}

// New builds the fiber app and registers all routes.
func New(cfg config.ServerConfig, c *core.Core, logger zerolog.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName: "lendsure",
	})

	h := &handler{core: c, logger: logger.With().Str("component", "http").Logger()}
	h.register(app)

	return &Server{
		app:    app,
		cfg:    cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.cfg.ListenAddr, fiber.ListenConfig{
			DisableStartupMessage: true,
		})
	}()
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down http server")
	if err := s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout); err != nil {
		return err
	}
	return <-errCh
}

type errorBody struct {
	Error   uint32 `json:"error"`
	Message string `json:"message"`
}

// httpStatus maps protocol error codes onto HTTP statuses. Anything that is
// not a protocol error is a 500.
func httpStatus(err error) int {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		return http.StatusInternalServerError
	}
	switch perr.Code {
	case protocol.CodeUnauthorized:
		return http.StatusForbidden
	case protocol.CodeNotFound:
		return http.StatusNotFound
	case protocol.CodeInvalidParameters:
		return http.StatusBadRequest
	case protocol.CodeAlreadyExists,
		protocol.CodeAlreadyFinalized,
		protocol.CodeDuplicateSubmission,
		protocol.CodeLoanNotActive,
		protocol.CodeLoanNotExpired,
		protocol.CodePolicyNotActive:
		return http.StatusConflict
	case protocol.CodeExceedsMaxLTV,
		protocol.CodeInvalidDuration,
		protocol.CodeInvalidTimestamp,
		protocol.CodeNoFinalizedAppraisal,
		protocol.CodeConditionNotMet:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(c fiber.Ctx, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return c.Status(httpStatus(err)).JSON(errorBody{Error: uint32(perr.Code), Message: perr.Msg})
	}
	return c.Status(http.StatusInternalServerError).JSON(errorBody{Message: err.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(http.StatusBadRequest).JSON(errorBody{
		Error:   uint32(protocol.CodeInvalidParameters),
		Message: msg,
	})
}
