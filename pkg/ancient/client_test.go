package ancient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPerseus_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/hopper/searchresults", r.URL.Path)
		assert.Equal(t, "Tacitus Annals", r.URL.Query().Get("q"))
		assert.Equal(t, "text", r.URL.Query().Get("target"))
		_, _ = w.Write([]byte("<html>" + strings.Repeat("result ", 200) + "</html>"))
	}))
	defer srv.Close()

	client := NewClient(WithPerseusBaseURL(srv.URL))
	hit, err := client.SearchPerseus(context.Background(), "Tacitus Annals")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, MethodPerseus, hit.Method)
	assert.Contains(t, hit.URL, "/hopper/searchresults")
}

func TestSearchPerseus_EmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	client := NewClient(WithPerseusBaseURL(srv.URL))
	hit, err := client.SearchPerseus(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearchPerseus_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(WithPerseusBaseURL(srv.URL))
	hit, err := client.SearchPerseus(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearchCCEL_Found(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Augustine Confessions", r.URL.Query().Get("qu"))
		_, _ = w.Write([]byte(`<html><a href="/ccel/augustine/confessions.html">Confessions</a></html>`))
	}))
	defer srv.Close()

	client := NewClient(WithCCELBaseURL(srv.URL))
	hit, err := client.SearchCCEL(context.Background(), "Augustine Confessions")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, MethodCCEL, hit.Method)
	assert.Equal(t, srv.URL+"/ccel/augustine/confessions.html", hit.URL)
}

func TestSearchCCEL_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>No results found</html>`))
	}))
	defer srv.Close()

	client := NewClient(WithCCELBaseURL(srv.URL))
	hit, err := client.SearchCCEL(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Nil(t, hit)
}

func TestSearchCCEL_NoWorkLinks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><a href="/about">About</a></html>`))
	}))
	defer srv.Close()

	client := NewClient(WithCCELBaseURL(srv.URL))
	hit, err := client.SearchCCEL(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, hit)
}
