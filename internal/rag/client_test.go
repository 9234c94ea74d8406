package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSimilar(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search/similar", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, `{"matches":[{"incident_number":"INC0001000","score":0.93}]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	matches, err := c.SearchSimilar(context.Background(), "vpn outage", "INC0001042", 15*time.Minute, 0.9)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "INC0001000", matches[0].IncidentNumber)
	assert.InDelta(t, 0.93, matches[0].Score, 0.001)

	assert.Equal(t, "incidents", captured["collection"])
	assert.Equal(t, float64(15), captured["time_window_minutes"])
	assert.Equal(t, "INC0001042", captured["exclude_id"])
	assert.Equal(t, float64(1), captured["limit"])
}

func TestSearchKBMapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)
		fmt.Fprint(w, `{"results":[
			{"title":"Rebuild Outlook profile","summary":"steps","score":0.81,"metadata":{"document_id":"KB0001"}},
			{"title":"Clear OST cache","summary":"more steps","score":0.74,"metadata":{"document_id":"KB0002"}}
		]}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	articles, err := c.SearchKB(context.Background(), "outlook crash", 3)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, "KB0001", articles[0].Number)
	assert.Equal(t, "Rebuild Outlook profile", articles[0].Title)
	assert.InDelta(t, 0.81, articles[0].Score, 0.001)
}

func TestIngest(t *testing.T) {
	var doc Document
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/ingest", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&doc))
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	err := c.Ingest(context.Background(), Document{
		DocumentID: "INC0002000",
		Type:       "ticket",
		Title:      "mail outage",
		Content:    "Description:\nmail down\n\nResolution:\nrestarted service",
		Metadata:   map[string]string{"resolution_code": "Solved (Permanently)"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ticket", doc.Type)
	assert.Equal(t, "INC0002000", doc.DocumentID)
}

func TestErrorStatusSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	_, err := c.SearchKB(context.Background(), "anything", 3)
	assert.ErrorContains(t, err, "status 500")
}

func TestBreakerShedsAfterRepeatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.SearchKB(ctx, "anything", 3)
		require.Error(t, err)
	}

	// breaker is open now, the request never reaches the wire
	srv.Close()
	_, err := c.SearchKB(ctx, "anything", 3)
	assert.ErrorContains(t, err, "circuit breaker is open")
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			fmt.Fprint(w, `{"status":"healthy"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	assert.True(t, NewClient(srv.URL).Healthy(context.Background()))
	assert.False(t, NewClient("http://127.0.0.1:1").Healthy(context.Background()))
}
