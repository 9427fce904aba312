package api

import (
	"bytes"
	"encoding/json"
)

// Wire types for ONC responses. They are decoded here and converted to
// models types before leaving the package.

type deviceResponse struct {
	DeviceCode         string `json:"deviceCode"`
	DeviceCategoryCode string `json:"deviceCategoryCode"`
	DeviceName         string `json:"deviceName"`
}

type deploymentResponse struct {
	DeviceCode   string        `json:"deviceCode"`
	LocationCode string        `json:"locationCode"`
	Begin        string        `json:"begin"`
	End          *string       `json:"end"`
	Citation     citationField `json:"citation"`
}

// citationField accepts either {"citation": "..."} or a bare string.
type citationField struct {
	Text string
}

func (c *citationField) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &c.Text)
	}
	var obj struct {
		Citation string `json:"citation"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil
	}
	c.Text = obj.Citation
	return nil
}

type dataProductResponse struct {
	DataProductCode string `json:"dataProductCode"`
	DataProductName string `json:"dataProductName"`
	Extension       string `json:"extension"`
}

type submitResponse struct {
	RequestID       int64    `json:"dpRequestId"`
	WarningMessages []string `json:"warningMessages"`
}

type runResponse struct {
	RunID     int64   `json:"dpRunId"`
	RunIDs    []int64 `json:"runIds"`
	Status    string  `json:"status"`
	FileCount *int    `json:"fileCount"`
}

// ID returns dpRunId, else the first of runIds.
func (r runResponse) ID() int64 {
	if r.RunID > 0 {
		return r.RunID
	}
	for _, id := range r.RunIDs {
		if id > 0 {
			return id
		}
	}
	return 0
}

type statusResponse struct {
	SearchHdrStatus string        `json:"searchHdrStatus"`
	Status          string        `json:"status"`
	FileCount       *int          `json:"fileCount"`
	Errors          []ErrorDetail `json:"errors"`
}

// Raw returns the most specific status string present.
func (s statusResponse) Raw() string {
	if s.SearchHdrStatus != "" {
		return s.SearchHdrStatus
	}
	return s.Status
}

type archiveFileResponse struct {
	Filename             string `json:"filename"`
	FileSize             *int64 `json:"fileSize"`
	UncompressedFileSize *int64 `json:"uncompressedFileSize"`
}

type archiveListResponse struct {
	Files json.RawMessage `json:"files"`
	Next  *struct {
		Parameters map[string]json.RawMessage `json:"parameters"`
	} `json:"next"`
}

// decodeOneOrMany decodes a JSON object or array of objects into a slice.
// Several ONC endpoints return either shape for the same call.
func decodeOneOrMany[T any](data []byte) ([]T, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return nil, err
		}
		return many, nil
	}
	var one T
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
