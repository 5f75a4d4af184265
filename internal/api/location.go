package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/safedrive/go-dispatch-client/internal/models"
)

func (c *Client) UpdateLocation(ctx context.Context, loc models.DriverLocation) error {
	return c.do(ctx, http.MethodPost, "/locations/update", loc, nil)
}

func (c *Client) LocationHistory(ctx context.Context, driverID string, since time.Time) ([]models.DriverLocation, error) {
	q := url.Values{}
	q.Set("driverId", driverID)
	if !since.IsZero() {
		q.Set("since", since.Format(time.RFC3339))
	}

	var history []models.DriverLocation
	err := c.do(ctx, http.MethodGet, "/locations/history?"+q.Encode(), nil, &history)
	return history, err
}

func (c *Client) NearbyDrivers(ctx context.Context, at models.Coordinates, radiusKm float64) ([]models.DriverLocation, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(at.Lng, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusKm, 'f', -1, 64))

	var drivers []models.DriverLocation
	err := c.do(ctx, http.MethodGet, "/locations/nearby?"+q.Encode(), nil, &drivers)
	return drivers, err
}
