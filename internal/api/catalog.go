package api

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/oceanhydro/hydrodl/internal/models"
)

// ListDevices returns the devices of a category (e.g. HYDROPHONE).
func (c *Client) ListDevices(ctx context.Context, category string) ([]models.Device, error) {
	var raw []deviceResponse
	params := url.Values{"deviceCategoryCode": {category}}
	if err := c.getJSON(ctx, "devices", params, &raw); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	devices := make([]models.Device, 0, len(raw))
	for _, d := range raw {
		if d.DeviceCode == "" {
			continue
		}
		devices = append(devices, models.Device{
			DeviceCode:         d.DeviceCode,
			DeviceCategoryCode: d.DeviceCategoryCode,
			DeviceName:         d.DeviceName,
		})
	}
	return devices, nil
}

// ListDeployments returns raw deployment records for a device.
// A 404 means the device has no deployments and yields an empty list.
func (c *Client) ListDeployments(ctx context.Context, deviceCode string) ([]models.RawDeployment, error) {
	var raw []deploymentResponse
	params := url.Values{"deviceCode": {deviceCode}}
	if err := c.getJSON(ctx, "deployments", params, &raw); err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list deployments for %s: %w", deviceCode, err)
	}

	out := make([]models.RawDeployment, 0, len(raw))
	for _, d := range raw {
		dep := models.RawDeployment{
			DeviceCode:   d.DeviceCode,
			LocationCode: d.LocationCode,
			Begin:        d.Begin,
			Citation:     d.Citation.Text,
		}
		if dep.DeviceCode == "" {
			dep.DeviceCode = deviceCode
		}
		if d.End != nil {
			dep.End = *d.End
		}
		out = append(out, dep)
	}
	return out, nil
}

// ListDataProducts returns the data products a device can produce.
func (c *Client) ListDataProducts(ctx context.Context, deviceCode string) ([]models.DataProduct, error) {
	var raw []dataProductResponse
	params := url.Values{"deviceCode": {deviceCode}}
	if err := c.getJSON(ctx, "dataProducts", params, &raw); err != nil {
		return nil, fmt.Errorf("list data products for %s: %w", deviceCode, err)
	}

	products := make([]models.DataProduct, 0, len(raw))
	for _, p := range raw {
		products = append(products, models.DataProduct{
			ProductCode: p.DataProductCode,
			ProductName: p.DataProductName,
			Extension:   strings.ToLower(p.Extension),
		})
	}
	return products, nil
}
