package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agencyServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *AgencyClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return NewAgencyClient(srv.URL+"/api/v2", "secret-key", 2*time.Second)
}

func TestAgencyClient_Place(t *testing.T) {
	c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/v2", r.URL.Path)
		assert.Equal(t, "add", q.Get("action"))
		assert.Equal(t, "secret-key", q.Get("key"))
		assert.Equal(t, "101", q.Get("service"))
		assert.Equal(t, "https://instagram.com/someone", q.Get("link"))
		assert.Equal(t, "500", q.Get("quantity"))
		_, _ = w.Write([]byte(`{"order": 23501}`))
	})
	id, err := c.Place(context.Background(), 101, "https://instagram.com/someone", 500)
	require.NoError(t, err)
	assert.Equal(t, "23501", id)
}

func TestAgencyClient_PlaceErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", 200, `{"error": "Not enough funds on balance"}`, "Not enough funds on balance"},
		{"no order id", 200, `{}`, "no order id"},
		{"http 500", 500, `oops`, "add: http 500"},
		{"garbage", 200, `<html>`, "decode add response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.Place(context.Background(), 1, "https://x.com/a", 10)
			var fe *FulfillmentError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Contains(t, fe.Error(), tt.want)
		})
	}
}

func TestAgencyClient_TimeoutHidesKey(t *testing.T) {
	block := make(chan struct{})
	c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-block
	})
	defer close(block)
	c.hc.Timeout = 0
	c.timeout = 50 * time.Millisecond

	_, err := c.Place(context.Background(), 1, "https://x.com/a", 10)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret-key")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestAgencyClient_Status(t *testing.T) {
	c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status", r.URL.Query().Get("action"))
		assert.Equal(t, "ext-9", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`{"charge": "0.27819", "start_count": "3572", "status": "Partial", "remains": "157", "currency": "USD"}`))
	})
	st, err := c.Status(context.Background(), "ext-9")
	require.NoError(t, err)
	assert.Equal(t, &AgencyStatus{Status: "Partial", Remains: 157, Charge: "0.27819", StartCount: 3572}, st)
}

func TestAgencyClient_Services(t *testing.T) {
	c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"service": 1, "name": "Followers", "category": "First Category", "rate": "0.90", "min": "50", "max": "10000"},
			{"service": "2", "name": "Comments", "category": "Second", "rate": 8, "min": 10, "max": 1500.0}
		]`))
	})
	list, err := c.Services(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, AgencyService{ID: 1, Name: "Followers", Category: "First Category", Rate: "0.90", Min: 50, Max: 10000}, list[0])
	assert.Equal(t, AgencyService{ID: 2, Name: "Comments", Category: "Second", Rate: "8", Min: 10, Max: 1500}, list[1])
}

func TestAgencyClient_ServicesErrorObject(t *testing.T) {
	c := agencyServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": "Incorrect request"}`))
	})
	_, err := c.Services(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasSuffix(err.Error(), "Incorrect request"))
}
