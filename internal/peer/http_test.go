package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docsync/internal/failure"
)

func TestHTTPClient_Summary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sv", r.URL.Path)
		w.Write([]byte(`{"sv":"AQID"}`))
	}))
	defer srv.Close()

	sv, err := NewHTTPClient(srv.URL+"/", time.Second).Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, sv)
}

func TestHTTPClient_RequestDiff(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []byte
	}{
		{"delta", `{"update":"BAU="}`, []byte{4, 5}},
		{"null", `{"update":null}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/diff", r.URL.Path)
				var req DiffRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, []byte{9}, req.SV)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			got, err := NewHTTPClient(srv.URL, time.Second).RequestDiff(context.Background(), []byte{9})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPClient_PushUpdateAndCompact(t *testing.T) {
	var pushed []byte
	compacted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/update":
			var req UpdateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			pushed = req.Update
			w.Write([]byte(`{"ok":true,"seq":7}`))
		case "/compact":
			assert.Equal(t, http.MethodPost, r.Method)
			compacted = true
			w.Write([]byte(`{"ok":true,"result":{}}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, c.PushUpdate(context.Background(), []byte("delta")))
	require.NoError(t, c.TriggerCompaction(context.Background()))
	assert.Equal(t, []byte("delta"), pushed)
	assert.True(t, compacted)
}

func TestHTTPClient_FailuresArePeerUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{`))
		}},
		{"not acknowledged", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ok":false}`))
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			w.Write([]byte(`{"ok":true}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			err := NewHTTPClient(srv.URL, 50*time.Millisecond).PushUpdate(context.Background(), []byte("x"))
			require.Error(t, err)
			assert.Equal(t, failure.PeerUnavailable, failure.KindOf(err))
		})
	}
}

func TestHTTPClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPClient(url, time.Second).Summary(context.Background())
	assert.True(t, failure.Is(err, failure.PeerUnavailable))
}
