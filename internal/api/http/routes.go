package httpapi

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/temphist/temphist/internal/debounce"
	"github.com/temphist/temphist/internal/loader"
	"github.com/temphist/temphist/internal/location"
	"github.com/temphist/temphist/internal/temphist"
)

var validate = validator.New()

// DatasetLoader is the slice of the lazy loader the HTTP layer needs.
type DatasetLoader interface {
	LoadPeriodData(ctx context.Context, period temphist.Period, location, identifier string, opts loader.Options) (*temphist.TemperatureDataset, error)
	PreloadPeriodData(ctx context.Context, period temphist.Period, location, identifier string)
}

// LocationResolver canonicalizes free-form location queries.
type LocationResolver interface {
	Enabled() bool
	Resolve(query string) (location.Resolved, error)
}

// router holds the handlers' collaborators.
type router struct {
	loader    DatasetLoader
	debouncer *debounce.Debouncer
	resolver  LocationResolver

	mu        sync.Mutex
	preloadFn map[string]func(args ...any)
}

// preloadDelay coalesces bursts of preload requests for the same key, e.g. a
// user clicking through locations faster than loads can start.
const preloadDelay = 500 * time.Millisecond

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, ldr DatasetLoader, deb *debounce.Debouncer, resolver LocationResolver) {
	rt := &router{
		loader:    ldr,
		debouncer: deb,
		resolver:  resolver,
		preloadFn: make(map[string]func(args ...any)),
	}

	v1 := app.Group("/api/v1")
	v1.Get("/records/:period/:location/:identifier", rt.getRecords)
	v1.Post("/records/:period/:location/:identifier/preload", rt.postPreload)
	v1.Get("/locations/resolve", rt.resolveLocation)
}

// recordsParams is the validated path-parameter set for the records endpoints.
type recordsParams struct {
	Period     temphist.Period
	Location   string `validate:"required"`
	Identifier string `validate:"required"`
}

func parseRecordsParams(c *fiber.Ctx) (recordsParams, error) {
	var p recordsParams

	period, err := temphist.ParsePeriod(c.Params("period"))
	if err != nil {
		return p, fiber.NewError(fiber.StatusBadRequest, "unknown period; use day, week, month or year")
	}
	p.Period = period

	loc := c.Params("location")
	if unescaped, err := url.PathUnescape(loc); err == nil {
		loc = unescaped
	}
	p.Location = loc
	p.Identifier = c.Params("identifier")

	if err := validate.Struct(p); err != nil {
		return p, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := temphist.ValidateIdentifier(p.Identifier); err != nil {
		return p, fiber.NewError(fiber.StatusBadRequest, "invalid date identifier; use MM-DD")
	}
	return p, nil
}

func (rt *router) getRecords(c *fiber.Ctx) error {
	p, err := parseRecordsParams(c)
	if err != nil {
		return err
	}

	ds, err := rt.loader.LoadPeriodData(c.UserContext(), p.Period, p.Location, p.Identifier, loader.Options{})
	if err != nil {
		return mapLoadError(c, err)
	}

	return c.JSON(ds)
}

// postPreload schedules a debounced background warm-up and returns
// immediately. Repeated requests for the same triple within the debounce
// window coalesce into one preload.
func (rt *router) postPreload(c *fiber.Ctx) error {
	p, err := parseRecordsParams(c)
	if err != nil {
		return err
	}

	key := temphist.CacheKey(p.Period, p.Location, p.Identifier)

	rt.mu.Lock()
	fn, ok := rt.preloadFn[key]
	if !ok {
		fn = rt.debouncer.Debounce(key, func(args ...any) {
			rt.loader.PreloadPeriodData(context.Background(), p.Period, p.Location, p.Identifier)
		}, preloadDelay, false)
		rt.preloadFn[key] = fn
	}
	rt.mu.Unlock()

	fn()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"scheduled": true,
		"key":       key,
	})
}

func (rt *router) resolveLocation(c *fiber.Ctx) error {
	if rt.resolver == nil || !rt.resolver.Enabled() {
		return fiber.NewError(fiber.StatusServiceUnavailable, "location resolution is not configured")
	}

	query := c.Query("q")
	if query == "" {
		return fiber.NewError(fiber.StatusBadRequest, "q query parameter is required")
	}

	resolved, err := rt.resolver.Resolve(query)
	if err != nil {
		if errors.Is(err, location.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "location not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to resolve location")
	}

	return c.JSON(resolved)
}

// mapLoadError collapses the load pipeline's error taxonomy into the small
// set of messages the UI shows. Cancelled loads produce no error payload.
func mapLoadError(c *fiber.Ctx, err error) error {
	switch {
	case temphist.IsCancelled(err):
		// The caller went away; nobody is reading this response.
		return c.SendStatus(fiber.StatusNoContent)
	case errors.Is(err, temphist.ErrInvalidIdentifier):
		return fiber.NewError(fiber.StatusBadRequest, "invalid date identifier; use MM-DD")
	case errors.Is(err, temphist.ErrPollingTimedOut):
		return fiber.NewError(fiber.StatusGatewayTimeout, "the weather service took too long to prepare this data")
	case errors.Is(err, temphist.ErrJobFailed), errors.Is(err, temphist.ErrSyncFetchFailed):
		return fiber.NewError(fiber.StatusBadGateway, "the weather service could not compute this data")
	case errors.Is(err, temphist.ErrJobCreationFailed),
		errors.Is(err, temphist.ErrPollingFailed),
		errors.Is(err, temphist.ErrInvalidJobResponse):
		return fiber.NewError(fiber.StatusBadGateway, "could not reach the weather service")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load temperature data")
	}
}
