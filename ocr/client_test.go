package ocr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		total := "150.00"
		json.NewEncoder(w).Encode(Result{
			Text:           "AMOUNT DUE $150.00",
			Total:          &total,
			Title:          "Electric Utility",
			Confidence:     "95%",
			ProcessingTime: "120ms",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 1)
	result, err := c.Extract(context.Background(), []byte("fake-pdf-bytes"), "application/pdf", "f1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "AMOUNT DUE $150.00", result.Text)
	require.NotNil(t, result.Total)
	assert.Equal(t, "150.00", *result.Total)
	assert.Equal(t, "Electric Utility", result.Title)
}

func TestExtractDoesNotRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad file"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 3)
	_, err := c.Extract(context.Background(), []byte("x"), "application/pdf", "f1.pdf")
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	var ocrErr *Error
	require.ErrorAs(t, err, &ocrErr)
	assert.Equal(t, ErrorKindRejected, ocrErr.Kind)
}

func TestExtractRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Result{Text: "ok", Confidence: "50%"})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, 3)
	result, err := c.Extract(context.Background(), []byte("x"), "application/pdf", "f1.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 2, attempts)
}
