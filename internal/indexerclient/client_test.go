package indexerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return New(Config{
		BaseURL:        baseURL,
		PageSize:       2,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		RateLimitEvery: time.Microsecond,
		HTTPTimeout:    2 * time.Second,
	})
}

func TestIterateTransactionsPaginatesUntilShortPage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			w.Write([]byte(`[{"id":1,"hash":"op1","status":"applied"},{"id":2,"hash":"op2","status":"applied"}]`))
			return
		}
		w.Write([]byte(`[{"id":3,"hash":"op3","status":"applied"}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	var got []Transaction
	err := c.IterateTransactions(context.Background(), TxFilter{}, func(page []Transaction) error {
		got = append(got, page...)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestIterateTransactionsStopsOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	calls := 0
	err := c.IterateTransactions(context.Background(), TxFilter{}, func(page []Transaction) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, calls)
}

func TestGetJSONRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"balance":100,"level":5,"timestamp":"2026-01-01T00:00:00Z"}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	snap, err := c.GetBalanceAt(context.Background(), "tz1A", time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(100), snap.Balance)
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGetJSONTerminatesImmediatelyOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetContractMetadata(context.Background(), "KT1Abc")
	require.Error(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetBalanceAtReturnsNotFoundOnEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.GetBalanceAt(context.Background(), "tz1A", time.Now())
	require.True(t, IsNotFound(err))
}

func TestGetTokenMetadataParsesFirstResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"decimals":6}]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.GetTokenMetadata(context.Background(), "KT1Abc", "0")
	require.NoError(t, err)
	require.NotNil(t, resp.Decimals)
	require.Equal(t, 6, *resp.Decimals)
}
