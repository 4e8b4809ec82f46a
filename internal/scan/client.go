// Package scan talks to the external prescription OCR service.
package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gmsas95/pillminder/internal/errors"
	"github.com/gmsas95/pillminder/internal/models"
	"github.com/gmsas95/pillminder/internal/security"
)

// MaxUpload bounds the image size forwarded to the OCR service.
const MaxUpload = 10 << 20

type Result struct {
	Status            string   `json:"status"`
	Message           string   `json:"message,omitempty"`
	ExtractedText     string   `json:"extracted_text"`
	DetectedMedicines []string `json:"detected_medicines"`
	DetectedDosages   []string `json:"detected_dosages"`
	Filename          string   `json:"filename,omitempty"`
}

type Client struct {
	endpoint   string
	httpClient *http.Client
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Upload sends an image as the multipart field "file" to /upload-prescription.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (Result, error) {
	if filename == "" {
		filename = "prescription.jpg"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Result{}, err
	}
	n, err := io.Copy(part, io.LimitReader(r, MaxUpload+1))
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeScanFailed, "failed to read image")
	}
	if n > MaxUpload {
		return Result{}, errors.New(errors.CodeValidation, "image exceeds upload limit")
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/upload-prescription", &buf)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, errors.CodeScanFailed, "cannot connect to scan service")
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&res); err != nil {
		return Result{}, errors.Wrap(err, errors.CodeScanFailed, fmt.Sprintf("unreadable scan response (HTTP %d)", resp.StatusCode))
	}
	if res.Status != "success" {
		msg := res.Message
		if msg == "" {
			msg = "failed to process the prescription image"
		}
		return res, errors.New(errors.CodeScanFailed, msg)
	}

	ocr := &security.InputValidator{MaxSize: 64 << 10, AllowNewlines: true}
	if err := ocr.Validate(res.ExtractedText); err != nil {
		res.ExtractedText = ""
	}
	return res, nil
}

// Drafts turns detected names into editable medicines with the defaults the
// upload flow uses. Names that fail text screening are dropped.
func Drafts(res Result) []models.Medicine {
	text := security.NewInputValidator()
	out := make([]models.Medicine, 0, len(res.DetectedMedicines))
	for _, name := range res.DetectedMedicines {
		name = security.Clean(name)
		if name == "" || text.Validate(name) != nil {
			continue
		}
		out = append(out, models.Medicine{
			ID:        uuid.NewString(),
			Name:      name,
			Frequency: "Once daily",
			Times:     []string{"09:00"},
		})
	}
	return out
}
