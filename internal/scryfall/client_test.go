package scryfall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkDataStreamsMatchingFile(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bulk-data":
			fmt.Fprintf(w, `{"data": [
				{"type": "oracle_cards", "download_uri": "%s/files/oracle.json"},
				{"type": "default_cards", "download_uri": "%s/files/default.json"}
			]}`, server.URL, server.URL)
		case "/files/default.json":
			w.Write([]byte(`[{"name": "Lightning Bolt"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)
	body, err := client.BulkData(context.Background(), "default_cards")
	require.NoError(t, err)
	defer body.Close()

	payload, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, `[{"name": "Lightning Bolt"}]`, string(payload))
}

func TestBulkDataMissingType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"type": "oracle_cards", "download_uri": "http://example.com/x"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)
	_, err := client.BulkData(context.Background(), "default_cards")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBulkDataMalformedListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [truncated`))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)
	_, err := client.BulkData(context.Background(), "default_cards")
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestCardImageFaceParam(t *testing.T) {
	cardID := uuid.New()
	var gotFaces []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/"+cardID.String(), r.URL.Path)
		assert.Equal(t, "image", r.URL.Query().Get("format"))
		gotFaces = append(gotFaces, r.URL.Query().Get("face"))
		w.Write([]byte("jpeg-bytes"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)

	front, err := client.CardImage(context.Background(), cardID, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), front)

	_, err = client.CardImage(context.Background(), cardID, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"", "back"}, gotFaces)
}

func TestCardImageEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)
	_, err := client.CardImage(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		expected   error
	}{
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"not found", http.StatusNotFound, ErrNotFound},
		{"server error", http.StatusInternalServerError, ErrServerError},
		{"bad gateway", http.StatusBadGateway, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			client := NewClient(server.URL, nil, 0)
			_, err := client.CardImage(context.Background(), uuid.New(), 0)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 0)
	_, err := client.CardImage(context.Background(), uuid.New(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 418")
}

func TestThrottleSpacesRequests(t *testing.T) {
	var timestamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timestamps = append(timestamps, time.Now())
		w.Write([]byte("x"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 50)
	for i := 0; i < 3; i++ {
		_, err := client.CardImage(context.Background(), uuid.New(), 0)
		require.NoError(t, err)
	}

	require.Len(t, timestamps, 3)
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		assert.GreaterOrEqual(t, gap, 40*time.Millisecond, "requests %d and %d too close", i-1, i)
	}
}

func TestThrottleHonorsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, 5000)
	_, err := client.CardImage(context.Background(), uuid.New(), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.CardImage(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransient(t *testing.T) {
	assert.False(t, Transient(nil))
	assert.True(t, Transient(ErrRateLimited))
	assert.True(t, Transient(fmt.Errorf("wrapped: %w", ErrServerError)))
	assert.False(t, Transient(ErrNotFound))
	assert.False(t, Transient(ErrBadPayload))
	assert.False(t, Transient(errors.New("some local failure")))
	assert.True(t, Transient(&url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection reset")}))
}
