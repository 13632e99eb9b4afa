package stream

import (
	"strconv"

	"backend-ratemycoffee/internal/shared/httpx"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

func RegisterRoutes(r fiber.Router, hub *Hub) {
	r.Get("/coffee-shops/:id", func(c *fiber.Ctx) error {
		if _, err := httpx.ParamID(c, "id", "coffee shop"); err != nil {
			return err
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		shopID, _ := strconv.ParseInt(c.Params("id"), 10, 64)
		client := hub.Register(shopID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
