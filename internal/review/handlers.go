package review

import (
	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the review routes. optionalAuth identifies the
// caller when a token is sent; authMiddleware requires one.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware, optionalAuth fiber.Handler) {
	r.Get("/coffee-shops/:id/reviews", optionalAuth, func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		page := query.ParsePage(c.Query("page"), c.Query("per_page"), query.DefaultPerPage, query.MaxPerPage)
		actor := auth.ActorFrom(c)
		res, err := svc.ListByShop(c.UserContext(), shopID, c.Query("status"), page, actor)
		if err != nil {
			return err
		}
		for i := range res.Data {
			res.Data[i] = res.Data[i].ForViewer(actor)
		}
		return c.JSON(res)
	})

	r.Post("/coffee-shops/:id/reviews", optionalAuth, func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		var in Input
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		client := Client{IP: c.IP(), UserAgent: c.Get(fiber.HeaderUserAgent)}
		actor := auth.ActorFrom(c)
		review, err := svc.Create(c.UserContext(), shopID, in, client, actor)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(review.ForViewer(actor))
	})

	r.Get("/reviews/:id", optionalAuth, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "review")
		if err != nil {
			return err
		}
		review, err := svc.Show(c.UserContext(), id, auth.ActorFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(review)
	})

	r.Patch("/reviews/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "review")
		if err != nil {
			return err
		}
		present, err := httpx.PresentKeys(c.Body())
		if err != nil {
			return err
		}
		var in Input
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		actor := auth.ActorFrom(c)
		review, err := svc.Update(c.UserContext(), id, in, present, actor)
		if err != nil {
			return err
		}
		return c.JSON(review.ForViewer(actor))
	})

	r.Delete("/reviews/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "review")
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), id, auth.ActorFrom(c)); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/reviews/:id/flag", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "review")
		if err != nil {
			return err
		}
		actor := auth.ActorFrom(c)
		review, err := svc.Flag(c.UserContext(), id, actor)
		if err != nil {
			return err
		}
		return c.JSON(review.ForViewer(actor))
	})
}
