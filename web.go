package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

const sessionCookie = "imgtransform_session"

type Config struct {
	// Addr is the listen address; port 0 lets the OS pick one.
	Addr             string
	MaxUploadBytes   int64
	Sessions         *SessionStore
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	if config.MaxUploadBytes <= 0 {
		config.MaxUploadBytes = 32 << 20
	}
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newServer()

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go a.config.Sessions.RunEviction(ctx, time.Minute)

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

func (a *WebApp) newServer() *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		// leave room for the multipart envelope around the file
		BodyLimit: int(a.config.MaxUploadBytes) + 1<<20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(c.UserContext()).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	api := webapp.Group("/api")

	api.Get("/view", func(c *fiber.Ctx) error {
		params, err := parseParams(c)
		if err != nil {
			return err
		}
		s := a.lookupSession(c)
		if s == nil {
			return c.JSON(EmptyView())
		}
		return a.render(c, s, params)
	})

	api.Post("/upload", func(c *fiber.Ctx) error {
		params, err := parseParams(c)
		if err != nil {
			return err
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing file upload")
		}
		if fh.Size > a.config.MaxUploadBytes {
			return fiber.NewError(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s is larger than %d bytes", fh.Filename, a.config.MaxUploadBytes))
		}

		s := a.startSession(c)

		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
		}

		if err := s.Upload(c.UserContext(), fh.Filename, data); err != nil {
			var decodeErr *DecodeError
			if errors.As(err, &decodeErr) {
				return fiber.NewError(http.StatusBadRequest, decodeErr.Error())
			}
			return err
		}

		return a.render(c, s, params)
	})

	api.Post("/grayscale", func(c *fiber.Ctx) error {
		params, err := parseParams(c)
		if err != nil {
			return err
		}
		s := a.lookupSession(c)
		if s == nil {
			return fiber.NewError(http.StatusConflict, "upload an image before converting it")
		}

		if err := s.ConvertToGrayscale(c.UserContext()); err != nil {
			if errors.Is(err, ErrNoImage) {
				return fiber.NewError(http.StatusConflict, "upload an image before converting it")
			}
			return err
		}

		return a.render(c, s, params)
	})

	api.Delete("/session", func(c *fiber.Ctx) error {
		if id := c.Cookies(sessionCookie); id != "" {
			a.config.Sessions.Delete(id)
		}
		c.ClearCookie(sessionCookie)
		return c.SendStatus(http.StatusNoContent)
	})

	api.Post("/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

// lookupSession resolves the caller's session from its cookie without
// starting one. A cookie naming a session the store no longer has is cleared.
func (a *WebApp) lookupSession(c *fiber.Ctx) *Session {
	id := c.Cookies(sessionCookie)
	if id == "" {
		return nil
	}
	s, ok := a.config.Sessions.Lookup(id)
	if !ok {
		c.ClearCookie(sessionCookie)
		return nil
	}
	a.scopeLogger(c, s)
	return s
}

// startSession is lookupSession for uploads: the caller gets a new session
// when it has none.
func (a *WebApp) startSession(c *fiber.Ctx) *Session {
	id := c.Cookies(sessionCookie)
	s := a.config.Sessions.Get(id)
	if s.ID != id {
		c.Cookie(&fiber.Cookie{
			Name:     sessionCookie,
			Value:    s.ID,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteStrictMode,
		})
	}
	a.scopeLogger(c, s)
	return s
}

func (a *WebApp) scopeLogger(c *fiber.Ctx, s *Session) {
	ctx := c.UserContext()
	logger := log.Ctx(ctx).With().Str("session", s.ID).Logger()
	c.SetUserContext(logger.WithContext(ctx))
}

func (a *WebApp) render(c *fiber.Ctx, s *Session, params Params) error {
	view, err := s.Render(c.UserContext(), params)
	if err != nil {
		return fmt.Errorf("failed to render view: %w", err)
	}
	return c.JSON(view)
}

// parseParams reads the transformation controls from the query string,
// falling back to DefaultParams for anything absent.
func parseParams(c *fiber.Ctx) (Params, error) {
	p := DefaultParams()

	if op := c.Query("op"); op != "" {
		kind, err := ParseKind(op)
		if err != nil {
			return Params{}, fiber.NewError(http.StatusBadRequest, err.Error())
		}
		p.Kind = kind
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"angle", &p.Angle},
		{"sx", &p.ScaleX},
		{"sy", &p.ScaleY},
	}
	for _, f := range floats {
		raw := c.Query(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Params{}, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", f.key, raw))
		}
		*f.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"tx", &p.TranslateX},
		{"ty", &p.TranslateY},
	}
	for _, f := range ints {
		raw := c.Query(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fiber.NewError(http.StatusBadRequest, fmt.Sprintf("invalid %s %q", f.key, raw))
		}
		*f.dst = v
	}

	return p, nil
}
