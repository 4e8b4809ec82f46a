package scan

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillminder/internal/errors"
)

func TestUploadSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/upload-prescription", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "rx.png", hdr.Filename)
		assert.Equal(t, "IMAGEDATA", string(body))

		fmt.Fprint(w, `{"status":"success","extracted_text":"Tab Metformin 500mg","detected_medicines":["metformin"],"detected_dosages":["500mg"]}`)
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).Upload(context.Background(), "/tmp/rx.png", strings.NewReader("IMAGEDATA"))
	require.NoError(t, err)
	assert.Equal(t, []string{"metformin"}, res.DetectedMedicines)
	assert.Equal(t, []string{"500mg"}, res.DetectedDosages)
}

func TestUploadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","message":"No selected file"}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Upload(context.Background(), "a.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrScanFailed))
	assert.Contains(t, err.Error(), "No selected file")
}

func TestUploadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Upload(context.Background(), "a.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrScanFailed))
}

func TestDrafts(t *testing.T) {
	drafts := Drafts(Result{DetectedMedicines: []string{"metformin", "  ", "amox\x00icillin", "vitamin  d3"}})
	require.Len(t, drafts, 2)

	assert.Equal(t, "metformin", drafts[0].Name)
	assert.Equal(t, "Once daily", drafts[0].Frequency)
	assert.Equal(t, []string{"09:00"}, drafts[0].Times)
	assert.Empty(t, drafts[0].Dosage)
	assert.Empty(t, drafts[0].Duration)
	assert.NotEmpty(t, drafts[0].ID)
	assert.Equal(t, "vitamin d3", drafts[1].Name)
	assert.NotEqual(t, drafts[0].ID, drafts[1].ID)
}
