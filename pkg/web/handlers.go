package web

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-thymio/pkg/hub"
	"github.com/teslashibe/go-thymio/pkg/thymio"
)

// MotorsRequest is the body of POST /api/motors.
type MotorsRequest struct {
	Left  *int `json:"left"`
	Right *int `json:"right"`
}

// LedRequest is the body of POST /api/leds/top.
type LedRequest struct {
	Hex   string `json:"hex"`
	Color string `json:"color"`
}

// SoundRequest is the body of POST /api/sound/system.
type SoundRequest struct {
	Sound string `json:"sound"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.Status())
}

func (s *Server) handleVariables(c *fiber.Ctx) error {
	return c.JSON(s.current())
}

func (s *Server) handleMotors(c *fiber.Ctx) error {
	var req MotorsRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	if req.Left == nil || req.Right == nil {
		return badRequest(c, "left and right are required")
	}
	return s.command(c, func(ctx context.Context) error {
		return s.cmd.Motors(ctx, *req.Left, *req.Right)
	})
}

func (s *Server) handleTopLeds(c *fiber.Ctx) error {
	var req LedRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}

	var color thymio.LEDColor
	switch {
	case req.Hex != "":
		color = thymio.Hex(req.Hex)
	case req.Color != "":
		named, err := thymio.ParseColor(req.Color)
		if err != nil {
			return badRequest(c, err.Error())
		}
		color = thymio.Named(named)
	default:
		return badRequest(c, "hex or color is required")
	}
	return s.command(c, func(ctx context.Context) error {
		return s.cmd.TopLeds(ctx, color)
	})
}

func (s *Server) handleSystemSound(c *fiber.Ctx) error {
	var req SoundRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body: "+err.Error())
	}
	sound, err := thymio.ParseSound(req.Sound)
	if err != nil {
		return badRequest(c, err.Error())
	}
	return s.command(c, func(ctx context.Context) error {
		return s.cmd.PlaySystemSound(ctx, sound)
	})
}

// command runs fn against the robot and maps its error to a status code.
func (s *Server) command(c *fiber.Ctx, fn func(ctx context.Context) error) error {
	if s.cmd == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "no robot connected",
		})
	}

	ctx := c.UserContext()
	if s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}

	if err := fn(ctx); err != nil {
		status := fiber.StatusBadGateway
		if errors.Is(err, thymio.ErrInvalidColor) {
			status = fiber.StatusBadRequest
		}
		s.logger.Warn("command failed", "path", c.Path(), "error", err)
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
	s.commands.Add(1)
	return c.JSON(fiber.Map{"ok": true})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// handleVariablesWS streams the snapshot, then every update.
func (s *Server) handleVariablesWS(c *websocket.Conn) {
	initial, err := hub.NewJSONMessage(s.current())
	if err != nil {
		s.logger.Error("failed to encode snapshot", "error", err)
		return
	}
	client, err := hub.NewClient(s.variablesHub, c, initial)
	if err != nil {
		return
	}
	client.Run()
}
