/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-display-go/internal/logging"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAssets struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingAssets) PlayAsset(name string, immediate bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, fmt.Sprintf("%s:%v", name, immediate))
	return nil
}

func (r *recordingAssets) played() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newFetcher(max int, assets AssetPlayer) *Fetcher {
	return New(Config{MaxSize: max, InitialSize: 16, Timeout: 2 * time.Second, FirmwareVersion: "1.4.0"}, assets)
}

func TestFetchSuccessWithHeaders(t *testing.T) {
	body := strings.Repeat("x", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1.4.0", r.Header.Get(HeaderFirmware))
		w.Header().Set(HeaderBrightness, "150")
		w.Header().Set(HeaderDwellSecs, "5")
		w.Header().Set(HeaderUpdateURL, "https://updates.example.com/fw.bin")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	result, err := newFetcher(500000, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, 100, result.Buffer.Len())
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 100, result.Brightness.OrEmpty())
	dwell, ok := result.DwellSecs.Get()
	assert.True(t, ok)
	assert.Equal(t, 5, dwell)
	assert.Equal(t, "https://updates.example.com/fw.bin", result.UpdateURL)
}

func TestFetchHeadersAreOptional(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("image"))
	}))
	defer server.Close()

	result, err := newFetcher(1000, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.True(t, result.Brightness.IsAbsent())
	assert.True(t, result.DwellSecs.IsAbsent())
	assert.Empty(t, result.UpdateURL)
}

func TestDwellHeaderRange(t *testing.T) {
	tests := []struct {
		value string
		want  int
		ok    bool
	}{
		{"0", 0, true},
		{"299", 299, true},
		{"300", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
	}

	f := newFetcher(1000, nil)
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			h := http.Header{}
			h.Set(HeaderDwellSecs, tt.value)
			got, ok := f.dwell(h).Get()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"bad request", http.StatusBadRequest},
		{"server error", http.StatusInternalServerError},
		{"no content", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			_, err := newFetcher(1000, nil).Fetch(context.Background(), server.URL)
			require.Error(t, err)
			assert.Equal(t, tt.status, StatusCode(err))
		})
	}
}

func TestFetchNetworkFailureIsStatusZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newFetcher(1000, nil).Fetch(context.Background(), url)
	require.Error(t, err)
	assert.Equal(t, 0, StatusCode(err))
}

func TestFetchOversizeByContentLength(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "999999999")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
	}))
	defer server.Close()

	assets := &recordingAssets{}
	_, err := newFetcher(500000, assets).Fetch(context.Background(), server.URL)

	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))
	assert.Equal(t, []string{"oversize:true"}, assets.played())
}

func TestFetchOversizeWhileStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte(strings.Repeat("y", 100)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	hook := logtest.NewLocal(logging.Base())
	defer hook.Reset()

	assets := &recordingAssets{}
	_, err := newFetcher(999, assets).Fetch(context.Background(), server.URL)

	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusCode(err))
	assert.Len(t, assets.played(), 1)

	var warned []string
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, "Content too large") {
			warned = append(warned, entry.Message)
		}
	}
	require.Len(t, warned, 1)
	assert.Contains(t, warned[0], "(1000 bytes, max 999)")
}

func TestFetchExactlyMaxSucceeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			_, _ = w.Write([]byte(strings.Repeat("z", 100)))
			flusher.Flush()
		}
	}))
	defer server.Close()

	result, err := newFetcher(1000, nil).Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 1000, result.Buffer.Len())
}

func TestStatusCodeOfForeignError(t *testing.T) {
	assert.Equal(t, -1, StatusCode(fmt.Errorf("plain")))
	err := fmt.Errorf("wrapped: %w", &StatusError{StatusCode: 404, Err: fmt.Errorf("nope")})
	assert.Equal(t, 404, StatusCode(err))
	assert.Contains(t, err.Error(), "status 404")
}
