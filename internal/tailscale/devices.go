package tailscale

import (
	"context"
	"fmt"
	"net/http"
)

// ListDevices returns every device in the tailnet.
// A response without a "devices" key yields an empty slice.
func (c *Client) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	var out deviceList
	if err := c.do(ctx, "list devices", http.MethodGet, c.tailnetPath("devices?fields=all"), &out); err != nil {
		return nil, err
	}
	if out.Devices == nil {
		return []DeviceRecord{}, nil
	}
	return out.Devices, nil
}

// GetDevice returns a single device. A missing device yields ErrNotFound.
func (c *Client) GetDevice(ctx context.Context, nodeID string) (*DeviceRecord, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}

	var out DeviceRecord
	if err := c.do(ctx, "get device "+nodeID, http.MethodGet, devicePath(nodeID, "")+"?fields=all", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteDevice removes a device from the tailnet.
func (c *Client) DeleteDevice(ctx context.Context, nodeID string) error {
	if nodeID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}
	return c.do(ctx, "delete device "+nodeID, http.MethodDelete, devicePath(nodeID, ""), nil)
}

// GetDeviceRoutes returns the advertised and enabled subnet routes of a device.
func (c *Client) GetDeviceRoutes(ctx context.Context, nodeID string) (*Routes, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node id is required", ErrInvalidArgument)
	}

	var out Routes
	if err := c.do(ctx, "get routes "+nodeID, http.MethodGet, devicePath(nodeID, "routes"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsers returns the members of the tailnet.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out userList
	if err := c.do(ctx, "list users", http.MethodGet, c.tailnetPath("users"), &out); err != nil {
		return nil, err
	}
	if out.Users == nil {
		return []User{}, nil
	}
	return out.Users, nil
}
