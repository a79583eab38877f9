package utils

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type MultipartResult struct {
	File       []byte
	Properties Properties
}

// Properties are the form values a client may send next to the upload.
// Unset pointers leave the server policy alone.
type Properties struct {
	FilePath          string
	SaveFile          bool
	FeatureCollection string
	ExpectedUnitID    string
	BufferCM          *float64
	RunOverlapFix     *bool
	RemoveSlivers     *bool
}

// PayloadOptions bound what a request may make the server read or write.
// Client file paths are resolved under DataDir and refused when it is empty.
type PayloadOptions struct {
	MaxBytes int64
	DataDir  string
}

var (
	ErrNoPayload   = errors.New("no feature collection in request")
	ErrTooLarge    = errors.New("request body too large")
	ErrPathRefused = errors.New("file path not allowed")
)

// ReadMultiPartForm collects the file under fileKey and the known form
// values of r.
func ReadMultiPartForm(r *http.Request, fileKey string, maxBytes int64) (MultipartResult, error) {
	var result MultipartResult
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return result, fmt.Errorf("parsing multipart form: %w", err)
	}

	var fileHeader *multipart.FileHeader
	for key, value := range r.MultipartForm.File {
		if key == fileKey && len(value) > 0 {
			fileHeader = value[0]
		}
	}

	for key, value := range r.MultipartForm.Value {
		if len(value) == 0 {
			continue
		}
		var err error
		switch key {
		case "filepath":
			result.Properties.FilePath = value[0]
		case "saveFile":
			result.Properties.SaveFile = value[0] == "true"
		case "featureCollection":
			result.Properties.FeatureCollection = value[0]
		case "expectedUnitId":
			result.Properties.ExpectedUnitID = strings.TrimSpace(value[0])
		case "bufferCm":
			result.Properties.BufferCM, err = parseFloatPtr(value[0])
		case "runOverlapFix":
			result.Properties.RunOverlapFix, err = parseBoolPtr(value[0])
		case "removeSlivers":
			result.Properties.RemoveSlivers, err = parseBoolPtr(value[0])
		}
		if err != nil {
			return result, fmt.Errorf("form value %s: %w", key, err)
		}
	}

	if fileHeader != nil {
		file, err := fileHeader.Open()
		if err != nil {
			return result, fmt.Errorf("opening upload: %w", err)
		}
		defer file.Close()

		result.File, err = io.ReadAll(file)
		if err != nil {
			return result, fmt.Errorf("reading upload: %w", err)
		}
	}
	return result, nil
}

// ReadPayload returns the GeoJSON carried by r: the raw body for JSON
// requests, otherwise the uploaded file, the featureCollection form value
// or the file named by filepath, in that order. The body is capped at
// opts.MaxBytes.
func ReadPayload(w http.ResponseWriter, r *http.Request, opts PayloadOptions) ([]byte, Properties, error) {
	r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBytes)

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, Properties{}, bodyError(err)
		}
		if len(body) == 0 {
			return nil, Properties{}, ErrNoPayload
		}
		return body, Properties{}, nil
	}

	form, err := ReadMultiPartForm(r, "file", opts.MaxBytes)
	if err != nil {
		return nil, form.Properties, bodyError(err)
	}
	switch {
	case len(form.File) > 0:
		return form.File, form.Properties, nil
	case form.Properties.FeatureCollection != "":
		return []byte(form.Properties.FeatureCollection), form.Properties, nil
	case form.Properties.FilePath != "":
		path, err := ResolvePath(opts.DataDir, form.Properties.FilePath)
		if err != nil {
			return nil, form.Properties, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, form.Properties, fmt.Errorf("reading %s: %w", form.Properties.FilePath, err)
		}
		return data, form.Properties, nil
	}
	return nil, form.Properties, ErrNoPayload
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, tooLarge.Limit)
	}
	if errors.Is(err, multipart.ErrMessageTooLarge) {
		return ErrTooLarge
	}
	return fmt.Errorf("reading request body: %w", err)
}

// ResolvePath joins a client supplied path onto dataDir. Absolute paths and
// paths leaving dataDir are refused.
func ResolvePath(dataDir, name string) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("%w: no data directory configured", ErrPathRefused)
	}
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("%w: %s", ErrPathRefused, name)
	}
	return filepath.Join(dataDir, name), nil
}

// OutputPath derives the path a processed upload is saved under.
func OutputPath(filePath, ext string) string {
	name := strings.TrimSuffix(strings.TrimSuffix(filePath, ".json"), ".geojson")
	name = strings.Replace(name, "files", "output", 1)
	return name + "_PROCESSED" + ext
}

func parseFloatPtr(s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func parseBoolPtr(s string) (*bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	return &b, nil
}
