package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/oceanhydro/hydrodl/internal/http"
	"github.com/oceanhydro/hydrodl/internal/models"
)

// SubmitJob requests a data product. The request is not retried here;
// the caller decides whether a 500 is worth another attempt.
func (c *Client) SubmitJob(ctx context.Context, req models.ProductRequest) (models.SubmitResult, error) {
	params := url.Values{}
	for k, v := range req.Params() {
		params.Set(k, v)
	}

	body, err := c.getRaw(ctx, "dataProductDelivery/request", params)
	if err != nil {
		return models.SubmitResult{}, fmt.Errorf("submit %s/%s for %s: %w",
			req.ProductCode, req.Extension, req.DeviceCode, err)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.SubmitResult{}, fmt.Errorf("failed to decode submit response: %w", err)
	}
	if resp.RequestID <= 0 {
		return models.SubmitResult{}, fmt.Errorf("submit response has no dpRequestId")
	}

	var payload map[string]interface{}
	_ = json.Unmarshal(body, &payload)

	return models.SubmitResult{
		RequestID:      resp.RequestID,
		Warnings:       resp.WarningMessages,
		EstimatedBytes: EstimateBytes(payload),
	}, nil
}

var errRunPending = errors.New("run not finished")

// RunJob starts a submitted request and waits until the service reports a
// terminal status or the run wait bound expires. FileCount is -1 when the
// service did not report one.
func (c *Client) RunJob(ctx context.Context, requestID int64) (models.RunResult, error) {
	params := url.Values{"dpRequestId": {strconv.FormatInt(requestID, 10)}}
	body, err := c.getRaw(ctx, "dataProductDelivery/run", params)
	if err != nil {
		return models.RunResult{FileCount: -1}, fmt.Errorf("run request %d: %w", requestID, err)
	}

	runs, err := decodeOneOrMany[runResponse](body)
	if err != nil {
		return models.RunResult{FileCount: -1}, fmt.Errorf("failed to decode run response: %w", err)
	}

	var run runResponse
	for _, r := range runs {
		if r.ID() > 0 {
			run = r
			break
		}
	}

	result := models.RunResult{
		RunID:     run.ID(),
		FileCount: -1,
		RawStatus: run.Status,
		Status:    models.ParseJobStatus(run.Status),
	}
	if result.RunID == 0 {
		return result, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.runMaxWait)
	defer cancel()

	policy := http.Policy{
		MaxAttempts: math.MaxInt32,
		Schedule:    http.Constant(c.runPollPeriod),
		ShouldRetry: func(err error) bool { return errors.Is(err, errRunPending) },
		OnRetry: func(attempt int, err error, wait time.Duration) {
			c.logger.Debug().Int64("request_id", requestID).Str("status", result.RawStatus).Msg("run in progress")
		},
	}
	st, err := http.DoValue(waitCtx, policy, func(ctx context.Context) (statusResponse, error) {
		st, err := c.checkStatus(ctx, requestID)
		if err != nil {
			return st, err
		}
		result.RawStatus = st.Raw()
		result.Status = models.ParseJobStatus(result.RawStatus)
		if !result.Status.IsTerminal() {
			return st, errRunPending
		}
		return st, nil
	})
	if err != nil {
		if ctx.Err() == nil && waitCtx.Err() != nil {
			c.logger.Warn().Int64("request_id", requestID).Dur("waited", c.runMaxWait).
				Msg("gave up waiting for run to finish")
			return result, nil
		}
		return result, fmt.Errorf("waiting for run %d: %w", result.RunID, err)
	}

	switch {
	case st.FileCount != nil:
		result.FileCount = *st.FileCount
	case run.FileCount != nil && models.ParseJobStatus(run.Status) == models.StatusComplete:
		result.FileCount = *run.FileCount
	}
	c.logger.Debug().Int64("request_id", requestID).Int64("run_id", result.RunID).
		Str("status", result.RawStatus).Int("file_count", result.FileCount).Msg("run finished")
	return result, nil
}

// CheckJobStatus queries the current status of a request.
func (c *Client) CheckJobStatus(ctx context.Context, requestID int64) (models.StatusResult, error) {
	st, err := c.checkStatus(ctx, requestID)
	if err != nil {
		return models.StatusResult{}, err
	}
	res := models.StatusResult{
		RawStatus: st.Raw(),
		Status:    models.ParseJobStatus(st.Raw()),
	}
	for _, e := range st.Errors {
		res.Errors = append(res.Errors, fmt.Sprintf("API Error %d: %s", e.ErrorCode, e.ErrorMessage))
	}
	return res, nil
}

func (c *Client) checkStatus(ctx context.Context, requestID int64) (statusResponse, error) {
	params := url.Values{"dpRequestId": {strconv.FormatInt(requestID, 10)}}
	body, err := c.getRaw(ctx, "dataProductDelivery/status", params)
	if err != nil {
		return statusResponse{}, fmt.Errorf("status of request %d: %w", requestID, err)
	}
	all, err := decodeOneOrMany[statusResponse](body)
	if err != nil || len(all) == 0 {
		return statusResponse{}, fmt.Errorf("invalid status response for request %d", requestID)
	}
	return all[0], nil
}

const mib = 1048576.0

// sizeKeys lists submit-response size fields in preference order with
// their factor to bytes.
var sizeKeys = []struct {
	key    string
	factor float64
}{
	{"fileSize", 1},
	{"compressedFileSize", 1},
	{"archiveSizeMB", mib},
	{"estimatedFileSize", 1},
	{"estimatedFileSizeMB", mib},
	{"expectedSizeMB", mib},
}

// EstimateBytes extracts an estimated download size from a submit response.
// estimatedFileSize may be a string with units ("1.2 GB"); a bare number
// in that string is taken as MB. Returns 0 when nothing usable is present.
func EstimateBytes(payload map[string]interface{}) int64 {
	for _, sk := range sizeKeys {
		v, ok := payload[sk.key]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			if b := val * sk.factor; b > 0 {
				return int64(b)
			}
		case json.Number:
			if f, err := val.Float64(); err == nil && f*sk.factor > 0 {
				return int64(f * sk.factor)
			}
		case string:
			if sk.key != "estimatedFileSize" {
				continue
			}
			if b, ok := parseSizeString(val); ok {
				return b
			}
		}
	}
	return 0
}

func parseSizeString(s string) (int64, bool) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	num := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '.' {
			return r
		}
		return -1
	}, s)
	n, err := strconv.ParseFloat(num, 64)
	if num == "" || err != nil {
		return 0, false
	}

	var b float64
	switch {
	case strings.Contains(s, "GB"):
		b = n * 1024 * mib
	case strings.Contains(s, "MB"):
		b = n * mib
	case strings.Contains(s, "KB"):
		b = n * 1024
	case strings.Contains(s, "B"):
		b = n
	default:
		b = n * mib
	}
	if b <= 0 {
		return 0, false
	}
	return int64(b), true
}
