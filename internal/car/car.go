// Package car drives the rover's motor controller over its small HTTP API.
package car

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gaspardpetit/rovercam/internal/logx"
	"github.com/gaspardpetit/rovercam/internal/metrics"
)

// DefaultBaseURL is the controller address used when none is configured.
const DefaultBaseURL = "http://192.168.1.106"

// Speed bounds accepted by the motor controller.
const (
	MinSpeed = 100
	MaxSpeed = 255
)

// Direction is a movement command understood by the controller.
type Direction string

const (
	Forward     Direction = "forward"
	Backward    Direction = "backward"
	Left        Direction = "left"
	Right       Direction = "right"
	Halt        Direction = "stop"
	RotateLeft  Direction = "rotate_left"
	RotateRight Direction = "rotate_right"
)

// Directions lists every valid Direction in display order.
var Directions = []Direction{Forward, Backward, Left, Right, Halt, RotateLeft, RotateRight}

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	for _, v := range Directions {
		if v == d {
			return true
		}
	}
	return false
}

// Move is a single leg of a route. Zero Speed keeps the current speed; zero
// Duration leaves the car moving.
type Move struct {
	Direction Direction `json:"direction"`
	Speed     int       `json:"speed,omitempty"`
	Duration  float64   `json:"duration,omitempty"`
}

// Response is the outcome of a controller command.
type Response struct {
	Success bool
	Message string
	Data    any
}

// Controller sends commands to the rover.
type Controller struct {
	client *http.Client
	log    zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	baseURL string
}

// New returns a Controller for baseURL. A nil client uses a client with a
// ten second timeout.
func New(baseURL string, client *http.Client) *Controller {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Controller{
		client:  client,
		log:     logx.Component("car"),
		sleep:   sleepCtx,
		baseURL: strings.TrimSpace(baseURL),
	}
}

// BaseURL returns the controller address.
func (c *Controller) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points the controller at another rover.
func (c *Controller) SetBaseURL(u string) {
	c.mu.Lock()
	c.baseURL = strings.TrimSpace(u)
	c.mu.Unlock()
}

// Command sends a raw command string.
func (c *Controller) Command(ctx context.Context, cmd string) (Response, error) {
	resp, err := c.do(ctx, cmd)
	metrics.RecordCarCommand(err == nil)
	if err != nil {
		c.log.Warn().Err(err).Str("cmd", cmd).Msg("car command failed")
		return Response{}, fmt.Errorf("car control request failed: %w", err)
	}
	c.log.Debug().Str("cmd", cmd).Str("result", resp.Message).Msg("car command sent")
	return resp, nil
}

// SetSpeed changes the motor speed.
func (c *Controller) SetSpeed(ctx context.Context, speed int) (Response, error) {
	return c.Command(ctx, fmt.Sprintf("speed_%d", speed))
}

// Stop halts the car.
func (c *Controller) Stop(ctx context.Context) (Response, error) {
	return c.Command(ctx, string(Halt))
}

// Move applies m: optional speed change, the direction, then a stop once the
// duration has elapsed.
func (c *Controller) Move(ctx context.Context, m Move) (Response, error) {
	if m.Speed > 0 {
		if _, err := c.SetSpeed(ctx, m.Speed); err != nil {
			return Response{}, err
		}
	}
	res, err := c.Command(ctx, string(m.Direction))
	if err != nil {
		return Response{}, err
	}
	if m.Duration > 0 {
		if err := c.sleep(ctx, time.Duration(m.Duration*float64(time.Second))); err != nil {
			// The car must not keep moving after an abandoned timed move.
			_, _ = c.Stop(context.WithoutCancel(ctx))
			return Response{}, err
		}
		if _, err := c.Stop(ctx); err != nil {
			return Response{}, err
		}
	}
	return res, nil
}

// Pilot runs each leg of route in order, stopping at the first failure.
func (c *Controller) Pilot(ctx context.Context, route []Move) (Response, error) {
	for i, m := range route {
		if _, err := c.Move(ctx, m); err != nil {
			return Response{}, fmt.Errorf("route step %d: %w", i+1, err)
		}
	}
	return Response{Success: true, Message: "Car pilot command executed"}, nil
}

func (c *Controller) do(ctx context.Context, cmd string) (Response, error) {
	u, err := url.Parse(c.BaseURL())
	if err != nil {
		return Response{}, fmt.Errorf("invalid base url: %w", err)
	}
	u = u.JoinPath("api")
	q := u.Query()
	q.Set("cmd", cmd)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := "HTTP " + resp.Status
		if text := strings.TrimSpace(string(body)); text != "" {
			msg += ": " + text
		}
		return Response{}, errors.New(msg)
	}
	return parseResponse(resp.Header.Get("Content-Type"), body), nil
}

func parseResponse(contentType string, body []byte) Response {
	if !strings.Contains(contentType, "application/json") {
		return Response{Success: true, Message: "ok", Data: string(body)}
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return Response{Success: true, Message: "ok"}
	}
	if status, ok := data["status"]; ok {
		parts := []string{"ok"}
		if s, ok := status.(string); ok {
			parts[0] = s
		}
		if speed, ok := data["speed"].(float64); ok {
			parts = append(parts, fmt.Sprintf("speed=%g", speed))
		}
		return Response{Success: true, Message: strings.Join(parts, " "), Data: data}
	}
	if m, ok := data["message"]; ok {
		msg, ok := m.(string)
		if !ok {
			msg = "ok"
		}
		return Response{Success: true, Message: msg, Data: data}
	}
	return Response{Success: true, Message: "ok", Data: data}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
