package api

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"net/url"
	"os"
	"strings"

	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/validation"
)

// maxArchivePages bounds pagination in case the service keeps returning next.
const maxArchivePages = 1000

// ListArchiveFiles lists archived files for a device and window, following
// pagination until the service stops returning a next page.
func (c *Client) ListArchiveFiles(ctx context.Context, filter models.ArchiveFilter) ([]models.ArchiveFileEntry, error) {
	params := url.Values{
		"deviceCode":    {filter.DeviceCode},
		"dateFrom":      {models.FormatTimestamp(filter.Window.Start)},
		"dateTo":        {models.FormatTimestamp(filter.Window.End)},
		"returnOptions": {"all"},
	}
	if filter.Extension != "" {
		params.Set("extension", filter.Extension)
	}

	var entries []models.ArchiveFileEntry
	for page := 1; page <= maxArchivePages; page++ {
		var resp archiveListResponse
		if err := c.getJSON(ctx, "archivefile/device", params, &resp); err != nil {
			return nil, fmt.Errorf("list archive files for %s: %w", filter.DeviceCode, err)
		}

		files, err := decodeArchiveFiles(resp.Files)
		if err != nil {
			return nil, fmt.Errorf("failed to decode archive listing: %w", err)
		}
		entries = append(entries, files...)

		if resp.Next == nil || len(resp.Next.Parameters) == 0 {
			return entries, nil
		}
		c.logger.Debug().Str("device", filter.DeviceCode).Int("page", page).Int("files", len(entries)).
			Msg("following archive listing pagination")

		params = nextPageParams(resp.Next.Parameters)
	}
	return entries, nil
}

// nextPageParams turns the service's next.parameters into query values,
// keeping numbers exactly as sent.
func nextPageParams(raw map[string]json.RawMessage) url.Values {
	params := url.Values{}
	for k, v := range raw {
		if k == "token" || len(v) == 0 || string(v) == "null" {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			params.Set(k, s)
			continue
		}
		params.Set(k, string(v))
	}
	return params
}

// decodeArchiveFiles accepts both plain filename strings and the objects
// returned with returnOptions=all.
func decodeArchiveFiles(raw json.RawMessage) ([]models.ArchiveFileEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	entries := make([]models.ArchiveFileEntry, 0, len(items))
	for _, item := range items {
		var name string
		var size int64

		if len(item) > 0 && item[0] == '"' {
			if err := json.Unmarshal(item, &name); err != nil {
				return nil, err
			}
		} else {
			var f archiveFileResponse
			if err := json.Unmarshal(item, &f); err != nil {
				return nil, err
			}
			name = f.Filename
			switch {
			case f.UncompressedFileSize != nil:
				size = *f.UncompressedFileSize
			case f.FileSize != nil:
				size = *f.FileSize
			}
		}

		if strings.TrimSpace(name) == "" {
			continue
		}
		entries = append(entries, models.ArchiveFileEntry{
			Filename:  name,
			Extension: models.ExtensionOf(name),
			SizeBytes: size,
		})
	}
	return entries, nil
}

// DownloadArchiveFile downloads one archived file by name into opts.OutDir.
func (c *Client) DownloadArchiveFile(ctx context.Context, filename string, opts models.DownloadOptions) models.DownloadResult {
	dest, err := validation.SafeJoin(opts.OutDir, filename)
	if err != nil {
		return models.FailedResult(filename, 0, fmt.Sprintf("unsafe filename: %v", err))
	}
	if !opts.Overwrite {
		if _, err := os.Stat(dest); err == nil {
			return models.ExistsResult(filename)
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	resp, err := c.doRequest(ctx, "archivefile/download", url.Values{"filename": {filename}})
	if err != nil {
		return models.FailedResult(filename, 0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != nethttp.StatusOK {
		return models.FailedResult(filename, resp.StatusCode, newAPIError(resp, "archivefile/download").Error())
	}

	n, err := writeFile(dest, resp.Body, opts.Overwrite)
	if err != nil {
		if IsFileExistsError(err) {
			return models.ExistsResult(filename)
		}
		return models.FailedResult(filename, resp.StatusCode, err.Error())
	}
	return models.DownloadedResult(filename, n, resp.StatusCode)
}
