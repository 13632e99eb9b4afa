package server

import (
	"backend-ratemycoffee/internal/auth"
	"backend-ratemycoffee/internal/config"
	"backend-ratemycoffee/internal/hours"
	"backend-ratemycoffee/internal/photo"
	"backend-ratemycoffee/internal/review"
	"backend-ratemycoffee/internal/shared/httpx"
	"backend-ratemycoffee/internal/shop"
	"backend-ratemycoffee/internal/storage"
	"backend-ratemycoffee/internal/stream"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// bodyLimit leaves room for a full-size photo plus multipart framing.
const bodyLimit = photo.MaxUploadSize + 1<<20

type Server struct {
	App    *fiber.App
	Cfg    config.Config
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Store  storage.Store
	Stream *stream.Hub
}

// NewServer wires every route. store may be nil, in which case photo
// uploads fail with an upstream error.
func NewServer(cfg config.Config, db *pgxpool.Pool, redisClient *redis.Client, store storage.Store) *Server {
	app := fiber.New(fiber.Config{
		ErrorHandler: httpx.ErrorHandler,
		BodyLimit:    bodyLimit,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.CORSOrigins}))

	s := &Server{
		App:    app,
		Cfg:    cfg,
		DB:     db,
		Redis:  redisClient,
		Store:  store,
		Stream: stream.NewHub(redisClient),
	}

	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authSvc := auth.NewService(s.Cfg.JWTSecret, s.DB, s.Redis,
		auth.NewLoginLimiter(s.Redis, s.Cfg.LoginMaxAttempts, s.Cfg.LoginCooldown))
	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret, authSvc)
	optionalJWT := auth.OptionalJWT(s.Cfg.JWTSecret, authSvc)
	adminOnly := auth.RequireRole(auth.RoleAdmin)

	hoursSvc := hours.NewService(s.DB)
	photoSvc := photo.NewService(s.DB, s.Store)
	reviewSvc := review.NewService(s.DB, s.Stream, s.Cfg.ReviewFlagThreshold)
	shopSvc := shop.NewService(s.DB, hoursSvc, photoSvc, reviewSvc)

	auth.RegisterRoutes(s.App.Group("/auth"), authSvc, jwtMiddleware)
	shop.RegisterRoutes(s.App, shopSvc, jwtMiddleware, adminOnly)
	hours.RegisterRoutes(s.App, hoursSvc, jwtMiddleware, adminOnly)
	photo.RegisterRoutes(s.App, photoSvc, jwtMiddleware)
	review.RegisterRoutes(s.App, reviewSvc, jwtMiddleware, optionalJWT)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream)
}
