package auth

import (
	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/register", func(c *fiber.Ctx) error {
		var req RegisterRequest
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
		resp, err := svc.Register(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(resp)
	})

	r.Post("/login", func(c *fiber.Ctx) error {
		var req LoginRequest
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
		resp, err := svc.Login(c.UserContext(), req)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	r.Post("/refresh", func(c *fiber.Ctx) error {
		var req RefreshRequest
		if err := httpx.Bind(c, &req); err != nil {
			return err
		}
		if req.RefreshToken == "" {
			return fiber.NewError(fiber.StatusBadRequest, "refresh_token required")
		}
		resp, err := svc.Refresh(c.UserContext(), req.RefreshToken)
		if err != nil {
			return err
		}
		return c.JSON(resp)
	})

	r.Post("/logout", authMiddleware, func(c *fiber.Ctx) error {
		if err := svc.Logout(c.UserContext(), ClaimsFrom(c)); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"message": "logged out"})
	})

	r.Get("/user/me", authMiddleware, func(c *fiber.Ctx) error {
		user, err := svc.GetUser(c.UserContext(), ActorFrom(c).UserID)
		if err != nil {
			return err
		}
		return c.JSON(user)
	})

	r.Get("/user/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "user")
		if err != nil {
			return err
		}
		user, err := svc.ShowUser(c.UserContext(), ActorFrom(c), id)
		if err != nil {
			return err
		}
		return c.JSON(user)
	})
}
