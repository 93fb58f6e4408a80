// Package tools exposes the camera and the rover as MCP tools.
package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/rovercam/internal/car"
	"github.com/gaspardpetit/rovercam/internal/snapshot"
)

// ServerName is announced to MCP clients.
const ServerName = "rovercam"

const carHint = "car control parameters: Speed 125, rotate 2.5s = 180°, rotate 5s = 360°"

// Camera returns the current camera image.
type Camera interface {
	Fetch(ctx context.Context, req snapshot.Request) (snapshot.Snapshot, error)
}

// Vehicle moves the rover.
type Vehicle interface {
	Move(ctx context.Context, m car.Move) (car.Response, error)
	SetSpeed(ctx context.Context, speed int) (car.Response, error)
	Stop(ctx context.Context) (car.Response, error)
	Pilot(ctx context.Context, route []car.Move) (car.Response, error)
}

// NewServer builds an MCP server with every tool registered.
func NewServer(version string, cam Camera, v Vehicle) *server.MCPServer {
	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	Register(s, cam, v)
	return s
}

// Register adds the camera and vehicle tools to s. A nil collaborator skips
// its tools.
func Register(s *server.MCPServer, cam Camera, v Vehicle) {
	if cam != nil {
		s.AddTool(fetchSnapshotTool(), fetchSnapshot(cam))
	}
	if v != nil {
		s.AddTool(moveCarTool(), moveCar(v))
		s.AddTool(setSpeedTool(), setCarSpeed(v))
		s.AddTool(pilotCarTool(), pilotCar(v))
		s.AddTool(stopCarTool(), stopCar(v))
	}
}

func directionNames() []string {
	out := make([]string, len(car.Directions))
	for i, d := range car.Directions {
		out[i] = string(d)
	}
	return out
}

func fetchSnapshotTool() mcp.Tool {
	return mcp.NewTool("fetch_snapshot",
		mcp.WithDescription("Fetch the current image from the rover camera"),
		mcp.WithString("url", mcp.Description("Snapshot or MJPEG stream URL; defaults to the configured camera")),
		mcp.WithNumber("timeoutMs", mcp.Min(0), mcp.Description("Request timeout in milliseconds (minimum 1000, default 8000)")),
	)
}

func fetchSnapshot(cam Camera) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r := snapshot.Request{URL: req.GetString("url", "")}
		if ms := req.GetFloat("timeoutMs", 0); ms > 0 {
			r.Timeout = time.Duration(ms * float64(time.Millisecond))
		}
		s, err := cam.Fetch(ctx, r)
		if err != nil {
			return mcp.NewToolResultError("Failed to fetch camera snapshot: " + err.Error()), nil
		}
		summary := fmt.Sprintf("Camera snapshot captured. Type: %s, Size: %d bytes, Source: %s, Latency: %dms",
			s.MimeType, s.ByteLength, s.Origin, s.TotalLatency.Milliseconds())
		return mcp.NewToolResultImage(summary, s.Base64(), s.MimeType), nil
	}
}

func moveProperties() map[string]any {
	return map[string]any{
		"direction": map[string]any{
			"type":        "string",
			"enum":        directionNames(),
			"description": "Direction to move the car",
		},
		"speed": map[string]any{
			"type":        "number",
			"minimum":     car.MinSpeed,
			"maximum":     car.MaxSpeed,
			"description": "Speed of movement (100-255)",
		},
		"duration": map[string]any{
			"type":        "number",
			"minimum":     0,
			"description": "Duration of movement in seconds",
		},
	}
}

func moveCarTool() mcp.Tool {
	return mcp.NewTool("move_car",
		mcp.WithDescription("Move the car in a specified direction with optional speed and duration, "+carHint),
		mcp.WithString("direction", mcp.Required(), mcp.Enum(directionNames()...), mcp.Description("Direction to move the car")),
		mcp.WithNumber("speed", mcp.Min(car.MinSpeed), mcp.Max(car.MaxSpeed), mcp.Description("Speed of movement (100-255)")),
		mcp.WithNumber("duration", mcp.Min(0), mcp.Description("Duration of movement in seconds")),
	)
}

func moveCar(v Vehicle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		m, err := parseMove(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := v.Move(ctx, m)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Car movement command executed. %s. Result: %s", describeMove(m), res.Message)), nil
	}
}

func setSpeedTool() mcp.Tool {
	return mcp.NewTool("set_car_speed",
		mcp.WithDescription("Set the speed of the car"),
		mcp.WithNumber("speed", mcp.Required(), mcp.Min(car.MinSpeed), mcp.Max(car.MaxSpeed), mcp.Description("Speed to set (100-255)")),
	)
}

func setCarSpeed(v Vehicle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, ok := req.GetArguments()["speed"]
		if !ok {
			return mcp.NewToolResultError("speed is required"), nil
		}
		speed, err := parseSpeed(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res, err := v.SetSpeed(ctx, speed)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Car speed set to %d. Result: %s", speed, res.Message)), nil
	}
}

func pilotCarTool() mcp.Tool {
	return mcp.NewTool("pilot_car",
		mcp.WithDescription("Pilot the car, "+carHint),
		mcp.WithArray("route",
			mcp.Required(),
			mcp.Description("Route to pilot the car"),
			mcp.Items(map[string]any{
				"type":       "object",
				"properties": moveProperties(),
				"required":   []string{"direction"},
			}),
		),
	)
}

func pilotCar(v Vehicle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		items, ok := req.GetArguments()["route"].([]any)
		if !ok {
			return mcp.NewToolResultError("route must be an array of moves"), nil
		}
		route := make([]car.Move, 0, len(items))
		legs := make([]string, 0, len(items))
		for i, it := range items {
			args, ok := it.(map[string]any)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("route[%d] must be an object", i)), nil
			}
			m, err := parseMove(args)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("route[%d]: %v", i, err)), nil
			}
			route = append(route, m)
			legs = append(legs, fmt.Sprintf("%s, Speed: %s, Duration: %s", m.Direction, speedText(m.Speed), durationText(m.Duration)))
		}
		res, err := v.Pilot(ctx, route)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Car pilot command executed. Route: %s. Result: %s", strings.Join(legs, ", "), res.Message)), nil
	}
}

func stopCarTool() mcp.Tool {
	return mcp.NewTool("stop_car",
		mcp.WithDescription("Stop the car"),
		mcp.WithNumber("duration", mcp.Min(0), mcp.Description("Duration of stop in seconds")),
	)
}

func stopCar(v Vehicle) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d := req.GetFloat("duration", 0)
		res, err := v.Stop(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Car stop command executed. Duration: %s. Result: %s", durationText(d), res.Message)), nil
	}
}

func parseMove(args map[string]any) (car.Move, error) {
	var m car.Move
	dir, _ := args["direction"].(string)
	m.Direction = car.Direction(dir)
	if !m.Direction.Valid() {
		return m, fmt.Errorf("direction must be one of %s", strings.Join(directionNames(), ", "))
	}
	if raw, ok := args["speed"]; ok && raw != nil {
		speed, err := parseSpeed(raw)
		if err != nil {
			return m, err
		}
		m.Speed = speed
	}
	if raw, ok := args["duration"]; ok && raw != nil {
		d, ok := raw.(float64)
		if !ok || d < 0 {
			return m, fmt.Errorf("duration must be a non-negative number of seconds")
		}
		m.Duration = d
	}
	return m, nil
}

func parseSpeed(raw any) (int, error) {
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) || f < car.MinSpeed || f > car.MaxSpeed {
		return 0, fmt.Errorf("speed must be an integer between %d and %d", car.MinSpeed, car.MaxSpeed)
	}
	return int(f), nil
}

func describeMove(m car.Move) string {
	return fmt.Sprintf("Direction: %s, Speed: %s, Duration: %s", m.Direction, speedText(m.Speed), durationText(m.Duration))
}

func speedText(s int) string {
	if s == 0 {
		return "default"
	}
	return strconv.Itoa(s)
}

func durationText(d float64) string {
	if d == 0 {
		return "continuous"
	}
	return strconv.FormatFloat(d, 'f', -1, 64)
}
