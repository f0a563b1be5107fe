package fetch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagscope/internal/fetch"
)

func TestValidContainerID(t *testing.T) {
	testCases := []struct {
		id    string
		valid bool
	}{
		{"GTM-ABC123", true},
		{"GTM-W2N5", true},
		{"GTM-ABCD1234", true},
		{"gtm-abc123", false},
		{"GTM-", false},
		{"GTM-TOOLONGIDX", false},
		{"AW-12345678", false},
		{"", false},
		{"GTM-ABC123; DROP TABLE", false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.valid, fetch.ValidContainerID(tc.id), "id %q", tc.id)
	}
}

func TestFetchContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GTM-ABC123", r.URL.Query().Get("id"))
		w.Write([]byte("var data = {};"))
	}))
	defer srv.Close()

	client := fetch.NewClient(5*time.Second, fetch.WithEndpoint(srv.URL))
	body, err := client.FetchContainer(context.Background(), "GTM-ABC123")
	require.NoError(t, err)
	assert.Equal(t, "var data = {};", body)
}

func TestFetchContainerStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := fetch.NewClient(5*time.Second, fetch.WithEndpoint(srv.URL))
	_, err := client.FetchContainer(context.Background(), "GTM-ABC123")
	require.Error(t, err)

	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "GTM-ABC123", statusErr.ContainerID)
}

func TestFetchContainerTransportError(t *testing.T) {
	// Closed server: connection refused, which must not look like a
	// status error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := fetch.NewClient(time.Second, fetch.WithEndpoint(srv.URL))
	_, err := client.FetchContainer(context.Background(), "GTM-ABC123")
	require.Error(t, err)

	var statusErr *fetch.StatusError
	assert.False(t, errors.As(err, &statusErr))
}

func TestFetchContainerRejectsInvalidID(t *testing.T) {
	client := fetch.NewClient(time.Second)
	_, err := client.FetchContainer(context.Background(), "not-a-container")
	require.Error(t, err)

	var invalidErr *fetch.InvalidContainerIDError
	require.ErrorAs(t, err, &invalidErr)
}

func TestFetchContainerFollowsRedirects(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("redirected payload"))
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	client := fetch.NewClient(5*time.Second, fetch.WithEndpoint(srv.URL))
	body, err := client.FetchContainer(context.Background(), "GTM-ABC123")
	require.NoError(t, err)
	assert.Equal(t, "redirected payload", body)
}
