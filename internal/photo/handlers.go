package photo

import (
	"strconv"
	"strings"

	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/shared/apperr"
	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes mounts the shop photo routes.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/coffee-shops/:id/photos", func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		photos, err := svc.List(c.UserContext(), shopID)
		if err != nil {
			return err
		}
		return c.JSON(photos)
	})

	r.Post("/coffee-shops/:id/photos", authMiddleware, func(c *fiber.Ctx) error {
		shopID, err := httpx.ParamID(c, "id", "coffee shop")
		if err != nil {
			return err
		}
		in, closeFile, err := bindInput(c)
		if err != nil {
			return err
		}
		defer closeFile()
		photo, err := svc.Create(c.UserContext(), shopID, in, auth.ActorFrom(c))
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(photo)
	})

	r.Get("/photos/:id", func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "photo")
		if err != nil {
			return err
		}
		photo, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return err
		}
		return c.JSON(photo)
	})

	r.Patch("/photos/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "photo")
		if err != nil {
			return err
		}
		in, closeFile, err := bindInput(c)
		if err != nil {
			return err
		}
		defer closeFile()
		photo, err := svc.Update(c.UserContext(), id, in, auth.ActorFrom(c))
		if err != nil {
			return err
		}
		return c.JSON(photo)
	})

	r.Delete("/photos/:id", authMiddleware, func(c *fiber.Ctx) error {
		id, err := httpx.ParamID(c, "id", "photo")
		if err != nil {
			return err
		}
		if err := svc.Delete(c.UserContext(), id, auth.ActorFrom(c)); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// bindInput reads a multipart form, or JSON when no form is sent. The
// returned func closes the uploaded file, if any.
func bindInput(c *fiber.Ctx) (Input, func(), error) {
	noop := func() {}
	var in Input
	if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		if len(c.Body()) == 0 {
			return in, noop, nil
		}
		return in, noop, httpx.Bind(c, &in)
	}

	fields := map[string][]string{}
	if v := c.FormValue("caption"); v != "" || formHas(c, "caption") {
		in.Caption = &v
	}
	if v := c.FormValue("is_cover"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fields["is_cover"] = []string{"must be true or false"}
		}
		in.IsCover = &b
	}
	if v := c.FormValue("sort_order"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["sort_order"] = []string{"must be an integer"}
		}
		in.SortOrder = &n
	}
	if v := c.FormValue("post_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fields["post_id"] = []string{"must be an integer"}
		}
		in.PostID = &n
	}
	if len(fields) > 0 {
		return in, noop, apperr.Validation(fields)
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return in, noop, nil
	}
	f, err := fh.Open()
	if err != nil {
		return in, noop, apperr.Invalid("file", "failed to upload")
	}
	in.File = &Upload{Filename: fh.Filename, Size: fh.Size, Body: f}
	return in, func() { _ = f.Close() }, nil
}

func formHas(c *fiber.Ctx, key string) bool {
	form, err := c.MultipartForm()
	if err != nil {
		return false
	}
	_, ok := form.Value[key]
	return ok
}
