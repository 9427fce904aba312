package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"strings"
)

// ErrFileAlreadyExists indicates the destination file is already present
// and overwriting was not requested.
var ErrFileAlreadyExists = errors.New("file already exists")

// ErrorDetail is one entry of the "errors" array ONC returns with HTTP 400.
type ErrorDetail struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Parameter    string `json:"parameter"`
}

// APIError is a non-success response from the ONC API.
type APIError struct {
	StatusCode int
	Path       string
	Errors     []ErrorDetail
	Body       string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		body := strings.TrimSpace(e.Body)
		if len(body) > 200 {
			body = body[:200] + "..."
		}
		return fmt.Sprintf("%s failed: status %d: %s", e.Path, e.StatusCode, body)
	}
	parts := make([]string, 0, len(e.Errors))
	for _, d := range e.Errors {
		msg := fmt.Sprintf("API Error %d: %s", d.ErrorCode, d.ErrorMessage)
		if d.Parameter != "" {
			msg += " (parameter: " + d.Parameter + ")"
		}
		parts = append(parts, msg)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Path, e.StatusCode, strings.Join(parts, "; "))
}

// HTTPStatus exposes the status code to retry classification.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// newAPIError reads (a bounded prefix of) the body and decodes ONC error details.
func newAPIError(resp *nethttp.Response, path string) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{StatusCode: resp.StatusCode, Path: path, Body: string(body)}

	var payload struct {
		Errors []ErrorDetail `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		apiErr.Errors = payload.Errors
	}
	return apiErr
}

// permissionIndicators mark a 400 that means the token may not access the data.
var permissionIndicators = []string{
	"api error 71",
	"permissions not granted",
	"api error 141",
}

// permissionCodes are the ONC error codes behind permissionIndicators.
var permissionCodes = map[int]bool{71: true, 141: true}

// IsPermissionError reports whether err is an HTTP 400 permission refusal.
func IsPermissionError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != nethttp.StatusBadRequest {
		return false
	}
	for _, d := range apiErr.Errors {
		if permissionCodes[d.ErrorCode] {
			return true
		}
	}
	msg := strings.ToLower(apiErr.Error())
	for _, indicator := range permissionIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err carries HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == nethttp.StatusNotFound
}

// IsFileExistsError checks if an error indicates the destination file exists.
//
// This function detects "file already exists" errors from multiple sources:
//  1. Wrapped ErrFileAlreadyExists error
//  2. os.ErrExist from an exclusive create
//  3. Error messages containing "already exists" or "file exists"
func IsFileExistsError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFileAlreadyExists) || errors.Is(err, os.ErrExist) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, indicator := range []string{"already exists", "file exists"} {
		if strings.Contains(errStr, indicator) {
			return true
		}
	}
	return false
}
