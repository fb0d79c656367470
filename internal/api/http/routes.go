package httpapi

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/kelvins/geocoder"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-fusion/internal/store"
	"github.com/i474232898/weather-fusion/internal/weather"
)

var validate = validator.New()

// GeocodeFunc resolves a city/country pair to coordinates. nil disables the
// city fallback and makes lat/lon mandatory.
type GeocodeFunc func(city, country string) (float64, float64, error)

// GoogleGeocode looks a city up through the Google geocoding API.
// geocoder.ApiKey must be set before the first call.
func GoogleGeocode(city, country string) (float64, float64, error) {
	loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
	if err != nil {
		return 0, 0, err
	}
	return loc.Latitude, loc.Longitude, nil
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service, geocode GeocodeFunc) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather", func(c *fiber.Ctx) error {
		loc, err := resolveLocation(c, geocode)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		includeAlerts := true
		if v := c.Query("alerts"); v != "" {
			if parsed, err := strconv.ParseBool(v); err == nil {
				includeAlerts = parsed
			}
		}

		// Degraded results are still results: stale or incomplete data
		// ships with a 200 and carries its own flags.
		data := service.Get(c.UserContext(), loc, includeAlerts)
		return c.JSON(data)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c, geocode); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		results, err := service.History(req.Location, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"location": req.Location,
			"from":     req.From,
			"to":       req.To,
			"results":  results,
		})
	})
}

// RegisterOps adds the health and metrics endpoints.
func RegisterOps(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

// coordsQuery is what resolveLocation validates once it has numbers.
type coordsQuery struct {
	Lat float64 `validate:"min=-90,max=90"`
	Lng float64 `validate:"min=-180,max=180"`
}

// resolveLocation reads lat/lon from the query, falling back to geocoding
// city/country when coordinates are absent.
func resolveLocation(c *fiber.Ctx, geocode GeocodeFunc) (weather.Location, error) {
	latStr, lngStr := c.Query("lat"), c.Query("lon")
	name := c.Query("name")

	var lat, lng float64
	switch {
	case latStr != "" && lngStr != "":
		var err error
		if lat, err = strconv.ParseFloat(latStr, 64); err != nil {
			return weather.Location{}, fmt.Errorf("invalid lat: %v", err)
		}
		if lng, err = strconv.ParseFloat(lngStr, 64); err != nil {
			return weather.Location{}, fmt.Errorf("invalid lon: %v", err)
		}

	case c.Query("city") != "":
		if geocode == nil {
			return weather.Location{}, errors.New("geocoding not configured; provide lat and lon")
		}
		var err error
		if lat, lng, err = geocode(c.Query("city"), c.Query("country")); err != nil {
			return weather.Location{}, fmt.Errorf("geocode %q: %v", c.Query("city"), err)
		}
		if name == "" {
			name = c.Query("city")
		}

	default:
		return weather.Location{}, errors.New("lat and lon (or city) query parameters are required")
	}

	if err := validate.Struct(coordsQuery{Lat: lat, Lng: lng}); err != nil {
		return weather.Location{}, err
	}

	if name == "" {
		name = fmt.Sprintf("%.4f,%.4f", lat, lng)
	}
	return weather.Location{
		Name:      name,
		Latitude:  lat,
		Longitude: lng,
		Domestic:  weather.ClassifyDomestic(lat, lng),
	}, nil
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location weather.Location
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx, geocode GeocodeFunc) error {
	loc, err := resolveLocation(c, geocode)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
