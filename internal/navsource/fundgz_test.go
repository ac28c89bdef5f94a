package navsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundGZClient_FetchNav(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/js/000001.js", r.URL.Path)
		w.Write([]byte(`jsonpgz({"fundcode":"000001","name":"华夏成长","jzrq":"2024-03-01","dwjz":"1.2340","gsz":"1.2400","gszzl":"0.49","gztime":"2024-03-04 15:00"});`))
	}))
	defer server.Close()

	client := NewFundGZClient(WithBaseURL(server.URL))
	q, err := client.FetchNav(context.Background(), "000001")
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("1.2340").Equal(q.Nav))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), q.AsOf)
	assert.Equal(t, "fundgz", q.Source)
}

func TestFundGZClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"empty callback", http.StatusOK, `jsonpgz();`},
		{"not jsonp", http.StatusOK, `<html></html>`},
		{"missing date", http.StatusOK, `jsonpgz({"fundcode":"000001","dwjz":"1.2340"});`},
		{"missing nav", http.StatusOK, `jsonpgz({"fundcode":"000001","jzrq":"2024-03-01"});`},
		{"bad date", http.StatusOK, `jsonpgz({"jzrq":"03/01/2024","dwjz":"1.2340"});`},
		{"bad nav", http.StatusOK, `jsonpgz({"jzrq":"2024-03-01","dwjz":"n/a"});`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewFundGZClient(WithBaseURL(server.URL))
			_, err := client.FetchNav(context.Background(), "000001")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSourceUnavailable), "got %v", err)
		})
	}
}

func TestFundGZClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewFundGZClient(WithBaseURL(server.URL), WithTimeout(20*time.Millisecond))
	_, err := client.FetchNav(context.Background(), "000001")
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}
