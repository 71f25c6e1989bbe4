package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) Config {
	logger := zerolog.Nop()
	return Config{BaseURL: url, APIKey: "key", Logger: &logger}
}

func TestFuel_Prices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/list.php", r.URL.Path)
		assert.Equal(t, "52.52", r.URL.Query().Get("lat"))
		assert.Equal(t, "13.405", r.URL.Query().Get("lng"))
		assert.Equal(t, "5", r.URL.Query().Get("rad"))
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		_, _ = io.WriteString(w, `{"ok":true,"stations":[{"id":"s1","e5":1.799}]}`)
	}))
	defer srv.Close()

	res, err := NewFuel(testConfig(srv.URL)).Prices(context.Background(), 52.52, 13.405, 5)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"stations":[{"id":"s1","e5":1.799}]}`, string(res))
}

func TestFuel_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"message":"apikey nicht angegeben"}`)
	}))
	defer srv.Close()

	_, err := NewFuel(testConfig(srv.URL)).Prices(context.Background(), 0, 0, 1)
	assert.ErrorIs(t, err, ErrFuelRejected)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"elements":[]}`)
	}))
	defer srv.Close()

	res, err := NewOverpass(testConfig(srv.URL)).Features(context.Background(), 1, 2, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"elements":[]}`, string(res))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewOverpass(testConfig(srv.URL)).Features(context.Background(), 1, 2, 1)
	assert.ErrorIs(t, err, ErrStatus)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOverpass_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, overpassQuery(1.5, 2.5, 2), r.PostForm.Get("data"))
		_, _ = io.WriteString(w, `{"elements":[{"type":"node","id":1}]}`)
	}))
	defer srv.Close()

	_, err := NewOverpass(testConfig(srv.URL)).Features(context.Background(), 1.5, 2.5, 2)
	require.NoError(t, err)
	assert.Contains(t, overpassQuery(1.5, 2.5, 2), "(around:2000,1.500000,2.500000)")
}

func TestOpenAI_Describe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOpenAIModel, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Contains(t, req.Messages[1].Content, "Brandenburg Gate")

		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"  A landmark.  "}}]}`)
	}))
	defer srv.Close()

	text, err := NewOpenAI(testConfig(srv.URL), "").Describe(context.Background(), "Brandenburg Gate", 52.5163, 13.3777)
	require.NoError(t, err)
	assert.Equal(t, "A landmark.", text)
}

func TestOpenAI_EmptyCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAI(testConfig(srv.URL), "").Describe(context.Background(), "x", 0, 0)
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
