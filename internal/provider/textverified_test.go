package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchStatusPlainStringCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/verifications/v1", r.URL.Path)
		fmt.Fprint(w, `{"id":"v1","state":"verificationCompleted","code":"482913","sms":"Your code is 482913"}`)
	}))
	defer server.Close()

	client := NewTextVerifiedClient(server.URL, "key", time.Second)
	status, err := client.FetchStatus(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, status.Kind)
	require.Equal(t, "482913", status.Code)
	require.False(t, status.CodeHeuristic)
}

func TestFetchStatusStructuredCodeFollowUp(t *testing.T) {
	// Second historical shape: code is an object with an href the adapter
	// must resolve internally
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verifications/v1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"v1","state":"verificationCompleted","code":{"href":"/api/codes/c9"},"sms":"msg"}`)
	})
	mux.HandleFunc("/api/codes/c9", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":"774411"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewTextVerifiedClient(server.URL, "key", time.Second)
	status, err := client.FetchStatus(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, status.Kind)
	require.Equal(t, "774411", status.Code)
}

func TestFetchStatusPendingWithRemaining(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"v1","state":"verificationPending","remainingSeconds":420}`)
	}))
	defer server.Close()

	client := NewTextVerifiedClient(server.URL, "key", time.Second)
	status, err := client.FetchStatus(context.Background(), "v1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, status.Kind)
	require.Equal(t, 420, status.RemainingSeconds)
}

func TestErrorClassification(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewTextVerifiedClient(server.URL, "key", time.Second)

	// 5xx is transient, caller retries next sweep
	_, err := client.FetchStatus(context.Background(), "v1")
	require.Error(t, err)
	require.True(t, IsTransient(err))

	// 4xx is permanent, caller collapses to cancelled after confirmation
	_, err = client.FetchStatus(context.Background(), "v1")
	require.Error(t, err)
	require.True(t, IsPermanent(err))
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := NewTextVerifiedClient(server.URL, "key", time.Second)
	_, err := client.FetchStatus(context.Background(), "v1")
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestSMSPVAFreeTextExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "get_sms", r.URL.Query().Get("metod"))
		fmt.Fprint(w, `{"response":"1","id":9001,"sms":"Vash kod: 66441"}`)
	}))
	defer server.Close()

	client := NewSMSPVAClient(server.URL, "key", time.Second)
	status, err := client.FetchStatus(context.Background(), "9001")
	require.NoError(t, err)
	require.Equal(t, StatusReceived, status.Kind)
	require.Equal(t, "66441", status.Code)
	require.True(t, status.CodeHeuristic)
}

func TestSMSPVARentRoundsCostToMinorUnits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "get_number", r.URL.Query().Get("metod"))
		fmt.Fprint(w, `{"response":"1","id":9001,"number":"15550001111","cost":0.29,"time":600}`)
	}))
	defer server.Close()

	client := NewSMSPVAClient(server.URL, "key", time.Second)
	rental, err := client.Rent(context.Background(), "telegram", "us")
	require.NoError(t, err)
	require.Equal(t, "9001", rental.ProviderRef)
	require.Equal(t, "15550001111", rental.PhoneNumber)
	// 0.29 currency units is 29 minor units, not the truncated 28
	require.Equal(t, int64(29), rental.Cost)
}

func TestSMSPVAPendingAndTerminated(t *testing.T) {
	responses := []string{
		`{"response":"2","time":180}`,
		`{"response":"3"}`,
	}
	var call int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, responses[call])
		call++
	}))
	defer server.Close()

	client := NewSMSPVAClient(server.URL, "key", time.Second)

	status, err := client.FetchStatus(context.Background(), "9001")
	require.NoError(t, err)
	require.Equal(t, StatusPending, status.Kind)
	require.Equal(t, 180, status.RemainingSeconds)

	status, err = client.FetchStatus(context.Background(), "9001")
	require.NoError(t, err)
	require.Equal(t, StatusTerminated, status.Kind)
	require.Equal(t, ReasonTimedOut, status.Reason)
}
