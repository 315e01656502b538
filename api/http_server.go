package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	jsoniter "github.com/json-iterator/go"

	"library-circulation/library"
)

const requestTimeout = 5 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server groups the HTTP layer dependencies.
type Server struct {
	mgr *library.LibraryManager
	log library.Logger
	now func() time.Time
}

func NewServer(mgr *library.LibraryManager, log library.Logger) *Server {
	return &Server{mgr: mgr, log: log, now: time.Now}
}

// App builds the fiber application with every route registered.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(s.logRequests)
	s.RegisterRoutes(app)
	return app
}

// RegisterRoutes registers all HTTP routes.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	r := app.Group("/api")

	r.Get("/items", s.handleListItems)
	r.Post("/items", s.handleAddItem)
	r.Get("/items/:id/copies", s.handleListItemCopies)
	r.Post("/items/:id/copies", s.handleAddCopies)
	r.Get("/items/:id/available", s.handleAvailable)

	r.Get("/copies", s.handleListCopies)
	r.Get("/copies/:id", s.handleGetCopy)
	r.Patch("/copies/:id/status", s.handleUpdateStatus)
	r.Put("/copies/:id/accession", s.handleEditAccession)
	r.Delete("/copies/:id", s.handleDeleteCopy)
	r.Get("/copies/:id/events", s.handleCopyEvents)
	r.Post("/copies/:id/return", s.handleReturnCopy)

	r.Get("/members", s.handleListMembers)
	r.Post("/members", s.handleAddMember)

	r.Get("/borrows", s.handleListBorrows)
	r.Post("/borrows", s.handleAddApprovedBorrow)
	r.Post("/borrows/requests", s.handleRequestBorrow)
	r.Get("/borrows/:id", s.handleGetBorrow)
	r.Post("/borrows/:id/approve", s.handleApprove)
	r.Post("/borrows/:id/reject", s.handleReject)
	r.Get("/borrows/:id/due", s.handleDue)
}

// Listen serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	app := s.App()
	errc := make(chan error, 1)
	go func() { errc <- app.Listen(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		return app.ShutdownWithTimeout(requestTimeout)
	}
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()
	c.SetUserContext(ctx)

	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = statusFor(err)
		}
	}
	s.log.Info("http request",
		"request_id", c.Locals(requestid.ConfigDefault.ContextKey),
		"method", c.Method(),
		"path", c.OriginalURL(),
		"status", status,
		"duration", time.Since(start),
	)
	return err
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &library.FormatError{Field: "id", Value: c.Params("id"), Want: "a positive integer"}
	}
	return id, nil
}

func queryID(c *fiber.Ctx, key string) (int64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, &library.FormatError{Field: key, Value: raw, Want: "a positive integer"}
	}
	return id, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}
