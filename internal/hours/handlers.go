package hours

import (
	"net/url"
	"strconv"

	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the shop hours routes.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware, adminOnly fiber.Handler) {
	r.Get("/coffee-shops/:id/hours", func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		hours, err := svc.List(c.UserContext(), shopID)
		if err != nil {
			return err
		}
		return c.JSON(hours)
	})

	r.Post("/coffee-shops/:id/hours", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		var in Input
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		hour, err := svc.Create(c.UserContext(), shopID, in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(hour)
	})

	r.Get("/coffee-shops/:id/hours/:day/:open", func(c *fiber.Ctx) error {
		shopID, day, open, err := hourKey(c)
		if err != nil {
			return err
		}
		hour, err := svc.Get(c.UserContext(), shopID, day, open)
		if err != nil {
			return err
		}
		return c.JSON(hour)
	})

	r.Patch("/coffee-shops/:id/hours/:day/:open", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		shopID, day, open, err := hourKey(c)
		if err != nil {
			return err
		}
		var in Input
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		hour, err := svc.Update(c.UserContext(), shopID, day, open, in)
		if err != nil {
			return err
		}
		return c.JSON(hour)
	})

	r.Delete("/coffee-shops/:id/hours/:day/:open", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		shopID, day, open, err := hourKey(c)
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), shopID, day, open); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func hourKey(c *fiber.Ctx) (int64, int, string, error) {
	shopID, err := httpx.ParamID(c, "id", "coffee shop")
	if err != nil {
		return 0, 0, "", err
	}
	day, err := strconv.Atoi(c.Params("day"))
	if err != nil || day < 0 || day > 6 {
		return 0, 0, "", apperr.NotFound("hour entry not found")
	}
	open, err := url.PathUnescape(c.Params("open"))
	if err != nil {
		return 0, 0, "", apperr.NotFound("hour entry not found")
	}
	return shopID, day, open, nil
}
