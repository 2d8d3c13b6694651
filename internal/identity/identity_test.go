package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReverseRecordParsesDomainName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"reverseRecord": map[string]interface{}{
					"domain": map[string]interface{}{"name": "alice.tez"},
				},
			},
		})
	}))
	defer srv.Close()

	a := New(Config{GraphQLURL: srv.URL, CallDelay: time.Millisecond})
	name := a.ReverseRecord(context.Background(), "tz1Alice")
	require.Equal(t, "alice.tez", name)
}

func TestReverseRecordReturnsEmptyOnTransportFailure(t *testing.T) {
	a := New(Config{GraphQLURL: "http://127.0.0.1:0", CallDelay: time.Millisecond, Timeout: 50 * time.Millisecond})
	name := a.ReverseRecord(context.Background(), "tz1Alice")
	require.Equal(t, "", name)
}

func TestReverseRecordReturnsEmptyOnGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"errors": []map[string]string{{"message": "boom"}},
		})
	}))
	defer srv.Close()

	a := New(Config{GraphQLURL: srv.URL, CallDelay: time.Millisecond})
	name := a.ReverseRecord(context.Background(), "tz1Alice")
	require.Equal(t, "", name)
}

func TestOwnedDomainsParsesItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"domains": map[string]interface{}{
					"items": []map[string]string{{"name": "alice.tez"}, {"name": "alice2.tez"}},
				},
			},
		})
	}))
	defer srv.Close()

	a := New(Config{GraphQLURL: srv.URL, CallDelay: time.Millisecond})
	names := a.OwnedDomains(context.Background(), "tz1Alice")
	require.Equal(t, []string{"alice.tez", "alice2.tez"}, names)
}

func TestOwnedDomainsReturnsNilWhenAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
	}))
	defer srv.Close()

	a := New(Config{GraphQLURL: srv.URL, CallDelay: time.Millisecond})
	names := a.OwnedDomains(context.Background(), "tz1Alice")
	require.Nil(t, names)
}

func TestThrottleEnforcesMinSpacing(t *testing.T) {
	a := New(Config{GraphQLURL: "http://127.0.0.1:0", CallDelay: 20 * time.Millisecond})
	start := time.Now()
	a.throttle()
	a.throttle()
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
