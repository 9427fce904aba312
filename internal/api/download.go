package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/oceanhydro/hydrodl/internal/constants"
	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/models"
	"github.com/oceanhydro/hydrodl/internal/validation"
)

const downloadPath = "dataProductDelivery/download"

var errFileNotReady = errors.New("file not ready")

// metaIndex is the index of the metadata file that accompanies a run.
const metaIndex = "meta"

// DownloadJobFiles downloads every file of a run, index 1 upwards until the
// service answers 404, plus the metadata file when requested. Per-file
// problems are reported in the results; an error is returned only when the
// run could not be read at all.
func (c *Client) DownloadJobFiles(ctx context.Context, runID int64, opts models.DownloadOptions) ([]models.FileResult, error) {
	var results []models.FileResult

	for i := 1; i <= constants.MaxRunFileIndex; i++ {
		index := strconv.Itoa(i)
		res := c.downloadIndex(ctx, runID, index, "", opts)

		if res.State == models.DownloadFailed && res.StatusCode == nethttp.StatusNotFound {
			break
		}
		if res.State == models.DownloadFailed && res.StatusCode == 0 {
			if i == 1 || ctx.Err() != nil {
				return results, fmt.Errorf("download run %d index %s: %s", runID, index, res.Reason)
			}
			results = append(results, toFileResult(index, res))
			break
		}
		results = append(results, toFileResult(index, res))
	}

	if opts.IncludeMetadata {
		res := c.downloadIndex(ctx, runID, metaIndex, "", opts)
		if !(res.State == models.DownloadFailed && res.StatusCode == nethttp.StatusNotFound) {
			results = append(results, toFileResult(metaIndex, res))
		}
	}

	return results, nil
}

func toFileResult(index string, res models.DownloadResult) models.FileResult {
	fr := models.FileResult{Index: index, Filename: res.Filename, Size: res.Size}
	switch res.State {
	case models.Downloaded:
		fr.Status = "complete"
		fr.Downloaded = true
	case models.AlreadyExists:
		fr.Status = "skipped"
	default:
		fr.Status = "error: " + res.Reason
	}
	return fr
}

// CountFilesForRun counts the files of a run by probing indices until 404.
func (c *Client) CountFilesForRun(ctx context.Context, runID int64) (int, error) {
	for i := 1; i <= constants.MaxRunFileIndex; i++ {
		status, _, _, err := c.probeIndex(ctx, runID, i)
		if err != nil {
			return 0, fmt.Errorf("count files for run %d: %w", runID, err)
		}
		if status == nethttp.StatusNotFound {
			return i - 1, nil
		}
	}
	return constants.MaxRunFileIndex, nil
}

// GetFileDescriptor probes one index of a run without downloading it.
func (c *Client) GetFileDescriptor(ctx context.Context, runID int64, index int) (models.FileDescriptor, error) {
	status, filename, size, err := c.probeIndex(ctx, runID, index)
	if err != nil {
		return models.FileDescriptor{}, err
	}

	desc := models.FileDescriptor{RunID: runID, Index: index, Filename: filename, Size: size}
	switch status {
	case nethttp.StatusOK:
		desc.Status = "complete"
	case nethttp.StatusAccepted:
		desc.Status = "running"
	case nethttp.StatusNoContent:
		desc.Status = "no content"
	case nethttp.StatusGone:
		desc.Status = "gone"
	case nethttp.StatusNotFound:
		return models.FileDescriptor{}, &APIError{StatusCode: status, Path: downloadPath,
			Body: fmt.Sprintf("run %d has no file at index %d", runID, index)}
	}
	return desc, nil
}

// probeIndex requests an index and closes the body without reading it.
// Status codes other than 200/202/204/404/410 are returned as *APIError.
func (c *Client) probeIndex(ctx context.Context, runID int64, index int) (int, string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.apiTimeout)
	defer cancel()

	resp, err := c.doRequest(ctx, downloadPath, indexParams(runID, strconv.Itoa(index)))
	if err != nil {
		return 0, "", 0, err
	}

	switch resp.StatusCode {
	case nethttp.StatusOK, nethttp.StatusAccepted, nethttp.StatusNoContent,
		nethttp.StatusNotFound, nethttp.StatusGone:
		var filename string
		var size int64
		if resp.StatusCode == nethttp.StatusOK {
			filename = filenameFromResponse(resp)
			if resp.ContentLength > 0 {
				size = resp.ContentLength
			}
		}
		resp.Body.Close()
		return resp.StatusCode, filename, size, nil
	default:
		defer resp.Body.Close()
		return 0, "", 0, newAPIError(resp, downloadPath)
	}
}

// DownloadFile downloads one file of a run. Expected outcomes are reported
// through the returned state rather than an error.
func (c *Client) DownloadFile(ctx context.Context, desc models.FileDescriptor, opts models.DownloadOptions) models.DownloadResult {
	if desc.Filename != "" && !opts.Overwrite {
		if dest, err := validation.SafeJoin(opts.OutDir, desc.Filename); err == nil {
			if _, err := os.Stat(dest); err == nil {
				return models.ExistsResult(desc.Filename)
			}
		}
	}
	return c.downloadIndex(ctx, desc.RunID, strconv.Itoa(desc.Index), desc.Filename, opts)
}

// downloadIndex fetches one run file, polling while the service is still
// rendering it (HTTP 202). MaxRetries bounds the number of polls; zero
// means poll until the timeout.
func (c *Client) downloadIndex(ctx context.Context, runID int64, index, knownName string, opts models.DownloadOptions) models.DownloadResult {
	name := knownName
	if name == "" {
		name = fmt.Sprintf("file_%d_%s", runID, index)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	params := indexParams(runID, index)
	polls := 0
	attempts := math.MaxInt32
	if opts.MaxRetries > 0 {
		attempts = opts.MaxRetries + 1
	}
	policy := http.Policy{
		MaxAttempts: attempts,
		Schedule:    http.Constant(opts.PollPeriod),
		ShouldRetry: func(err error) bool { return errors.Is(err, errFileNotReady) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Debug().Int64("run_id", runID).Str("index", index).Int("poll", attempt).Msg("file not ready")
		},
	}
	res, err := http.DoValue(ctx, policy, func(ctx context.Context) (models.DownloadResult, error) {
		resp, err := c.doRequest(ctx, downloadPath, params)
		if err != nil {
			return models.FailedResult(name, 0, err.Error()), nil
		}

		switch resp.StatusCode {
		case nethttp.StatusOK:
			return c.saveResponse(resp, name, opts), nil

		case nethttp.StatusAccepted:
			drain(resp.Body)
			polls++
			return models.DownloadResult{}, errFileNotReady

		case nethttp.StatusNoContent:
			drain(resp.Body)
			return models.FailedResult(name, resp.StatusCode, "no content"), nil

		case nethttp.StatusNotFound:
			drain(resp.Body)
			return models.FailedResult(name, resp.StatusCode, "not found"), nil

		case nethttp.StatusGone:
			drain(resp.Body)
			return models.FailedResult(name, resp.StatusCode, "gone (expired on server)"), nil

		default:
			apiErr := newAPIError(resp, downloadPath)
			resp.Body.Close()
			return models.FailedResult(name, resp.StatusCode, apiErr.Error()), nil
		}
	})
	switch {
	case err == nil:
		return res
	case errors.Is(err, errFileNotReady):
		return models.FailedResult(name, nethttp.StatusAccepted,
			fmt.Sprintf("still processing after %d polls", opts.MaxRetries))
	case polls == 0:
		return models.FailedResult(name, 0, err.Error())
	default:
		return models.FailedResult(name, nethttp.StatusAccepted, "timed out waiting for file: "+err.Error())
	}
}

func indexParams(runID int64, index string) url.Values {
	return url.Values{
		"dpRunId": {strconv.FormatInt(runID, 10)},
		"index":   {index},
	}
}

// saveResponse writes a 200 response body into opts.OutDir.
func (c *Client) saveResponse(resp *nethttp.Response, fallbackName string, opts models.DownloadOptions) models.DownloadResult {
	defer resp.Body.Close()

	filename := filenameFromResponse(resp)
	if filename == "" {
		filename = fallbackName
	}
	dest, err := validation.SafeJoin(opts.OutDir, filename)
	if err != nil {
		return models.FailedResult(fallbackName, resp.StatusCode, fmt.Sprintf("unsafe filename from server: %v", err))
	}

	n, err := writeFile(dest, resp.Body, opts.Overwrite)
	if err != nil {
		if IsFileExistsError(err) {
			return models.ExistsResult(filename)
		}
		return models.FailedResult(filename, resp.StatusCode, err.Error())
	}

	c.logger.Debug().Str("file", filename).Int64("bytes", n).Msg("downloaded")
	return models.DownloadedResult(filename, n, resp.StatusCode)
}

// filenameFromResponse returns the Content-Disposition filename, if any.
func filenameFromResponse(resp *nethttp.Response) string {
	cd := resp.Header.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

// writeFile streams r into dest through a temporary file and renames it
// into place. Without overwrite an existing dest yields ErrFileAlreadyExists.
func writeFile(dest string, r io.Reader, overwrite bool) (int64, error) {
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return 0, ErrFileAlreadyExists
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to write %s: %w", filepath.Base(dest), err)
	}

	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			os.Remove(tmp)
			return 0, ErrFileAlreadyExists
		} else if !errors.Is(err, os.ErrNotExist) {
			os.Remove(tmp)
			return 0, err
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to move %s into place: %w", filepath.Base(dest), err)
	}
	return n, nil
}
