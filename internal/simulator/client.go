package simulator

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prudhvinik1/wearsync/internal/models"
)

// Client talks to the server the way the watch and companion app do.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)

	return &Client{http: client}
}

// SendBatch posts a CSV batch to the shared endpoint and returns the server's
// acknowledgement text.
func (c *Client) SendBatch(body string) (string, error) {
	resp, err := c.http.R().
		SetHeader("Content-Type", "text/csv").
		SetBody(body).
		Post("/")
	if err != nil {
		return "", fmt.Errorf("failed to upload batch: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("batch upload rejected: %s: %s", resp.Status(), resp.String())
	}
	return resp.String(), nil
}

func (c *Client) Annotate(req models.AnnotationRequest) (*models.PendingAnnotation, error) {
	var pending models.PendingAnnotation
	resp, err := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&pending).
		Post("/api/v1/annotations")
	if err != nil {
		return nil, fmt.Errorf("failed to register annotation: %w", err)
	}
	if resp.StatusCode() != http.StatusCreated {
		return nil, fmt.Errorf("annotation rejected: %s: %s", resp.Status(), resp.String())
	}
	return &pending, nil
}

func (c *Client) Battery(device string) (*models.BatteryStatus, error) {
	var status models.BatteryStatus
	resp, err := c.http.R().
		SetPathParam("device", device).
		SetResult(&status).
		Get("/api/v1/devices/{device}/battery")
	if err != nil {
		return nil, fmt.Errorf("failed to get battery: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("battery lookup failed: %s: %s", resp.Status(), resp.String())
	}
	return &status, nil
}
