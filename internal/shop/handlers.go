package shop

import (
	"net/url"
	"strconv"

	"backend-ratemycoffee/internal/query"
	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the coffee shop routes. Writes are admin only.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware, adminOnly fiber.Handler) {
	r.Get("/coffee-shops", func(c *fiber.Ctx) error {
		params, err := url.ParseQuery(string(c.Request().URI().QueryString()))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid query string")
		}
		res, err := svc.List(c.UserContext(), params)
		if err != nil {
			return err
		}
		return c.JSON(res)
	})

	// Registered before the slug route so "locations" is not read as a slug.
	r.Get("/coffee-shops/locations", func(c *fiber.Ctx) error {
		includeEmpty, _ := strconv.ParseBool(c.Query("include_empty"))
		locations, err := svc.Locations(c.UserContext(), includeEmpty, c.Query("q"))
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": locations})
	})

	r.Get("/coffee-shops/:slugOrId", func(c *fiber.Ctx) error {
		page := query.ParsePage(c.Query("posts_page"), c.Query("posts_per_page"), query.DefaultNestedPerPage, query.MaxNestedPerPage)
		detail, err := svc.Detail(c.UserContext(), c.Params("slugOrId"), page)
		if err != nil {
			return err
		}
		return c.JSON(detail)
	})

	r.Post("/coffee-shops", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		var in Input
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		shop, err := svc.Create(c.UserContext(), in)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(shop)
	})

	r.Patch("/coffee-shops/:id", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "coffee shop")
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
		shop, err := svc.Update(c.UserContext(), id, in, present)
		if err != nil {
			return err
		}
		return c.JSON(shop)
	})

	r.Delete("/coffee-shops/:id", authMiddleware, adminOnly, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), id); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
