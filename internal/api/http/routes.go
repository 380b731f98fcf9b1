// Package httpapi exposes read-only HTTP endpoints over the observation
// store for serve mode.
package httpapi

import (
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/obstore"
)

var validate = validator.New()

// Deps carries the collaborators the handlers read from.
type Deps struct {
	Store       *obstore.Store
	MissingPath string
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/observations/:id", func(c *fiber.Ctx) error {
		req, err := parseStationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		rows, err := deps.Store.Station(req.ID, req.From, req.To)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read observations")
		}
		if len(rows) == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no observations for requested station")
		}

		return c.JSON(fiber.Map{
			"id":           req.ID,
			"from":         req.From,
			"to":           req.To,
			"observations": rows,
		})
	})

	v1.Get("/snapshot", func(c *fiber.Ctx) error {
		rows, err := deps.Store.Scan(true, time.Now())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read snapshot")
		}
		if rows == nil {
			rows = []obstore.Row{}
		}
		return c.JSON(rows)
	})

	v1.Get("/backlog", func(c *fiber.Ctx) error {
		entries, recovered := backlog.Load(deps.MissingPath)
		return c.JSON(fiber.Map{
			"entries":   len(entries),
			"dates":     backlog.CountDates(entries),
			"recovered": recovered,
			"backlog":   entries,
		})
	})
}

// stationQuery holds the path and query parameters of the station endpoint.
type stationQuery struct {
	ID   int64  `validate:"required,gt=0"`
	From string `validate:"omitempty,datetime=2006-01-02"`
	To   string `validate:"omitempty,datetime=2006-01-02"`
}

func parseStationQuery(c *fiber.Ctx) (stationQuery, error) {
	var q stationQuery

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return q, errors.New("station id must be numeric")
	}
	q.ID = id
	q.From = c.Query("from")
	q.To = c.Query("to")

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	if q.From != "" && q.To != "" && q.To < q.From {
		return q, errors.New("to must not be before from")
	}
	return q, nil
}
