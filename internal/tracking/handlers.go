package tracking

import (
	"errors"

	"backend-findme/internal/auth"
	"backend-findme/internal/track"

	"github.com/gofiber/fiber/v2"
)

// TokenIssuer hands out the token a device uses to write to its session.
type TokenIssuer interface {
	IssueSessionToken(sessionID string) (string, error)
}

func RegisterRoutes(r fiber.Router, svc *Service, tokens TokenIssuer, authMiddleware fiber.Handler) {
	owner := auth.RequireSession("id")

	r.Post("/sessions", func(c *fiber.Ctx) error {
		var req Session
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if req.DeviceID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "device_id required")
		}
		session, err := svc.StartSession(c.Context(), req)
		if err != nil {
			return httpError(err)
		}

		resp := fiber.Map{"session": session}
		if tokens != nil {
			token, err := tokens.IssueSessionToken(session.ID)
			if err != nil {
				return fiber.NewError(fiber.StatusInternalServerError, err.Error())
			}
			resp["access_token"] = token
			resp["token_type"] = "Bearer"
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	r.Post("/sessions/:id/points", authMiddleware, owner, func(c *fiber.Ctx) error {
		var req Fix
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		point, err := svc.Record(c.Context(), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(point)
	})

	r.Post("/sessions/:id/heading", authMiddleware, owner, func(c *fiber.Ctx) error {
		var req struct {
			Heading *float64 `json:"heading"`
		}
		if err := c.BodyParser(&req); err != nil || req.Heading == nil {
			return fiber.NewError(fiber.StatusBadRequest, "heading required")
		}
		heading, err := svc.UpdateHeading(c.Context(), c.Params("id"), *req.Heading)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(heading)
	})

	r.Post("/sessions/:id/errors", authMiddleware, owner, func(c *fiber.Ctx) error {
		var req SourceError
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		reported, err := svc.ReportError(c.Context(), c.Params("id"), req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(reported)
	})

	r.Post("/sessions/:id/end", authMiddleware, owner, func(c *fiber.Ctx) error {
		session, err := svc.EndSession(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(session)
	})

	r.Get("/sessions/:id/summary", func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summary)
	})

	r.Get("/sessions/:id/points", func(c *fiber.Ctx) error {
		points, err := svc.Points(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(points)
	})

	r.Get("/sessions/:id/path", func(c *fiber.Ctx) error {
		path, err := svc.Path(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(path)
	})

	r.Get("/sessions/:id/locate", func(c *fiber.Ctx) error {
		loc, err := svc.Locate(c.Context(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(loc)
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrNoFix):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionEnded):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, track.ErrInsufficientData):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnknownDistanceMode), errors.Is(err, ErrInvalidHeading), errors.Is(err, ErrUnknownMessage):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}
