package authsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUserDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/u-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id": "u-1", "firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com",
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	user, err := client.User(context.Background(), "u-1")
	require.NoError(t, err)
	require.Equal(t, "Ada Lovelace", user.FullName())
}

func TestUserNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	_, err := client.User(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUserUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	_, err := client.User(context.Background(), "u-1")
	require.ErrorIs(t, err, ErrUpstream)
}

func TestSubmitReviewForwardsBearer(t *testing.T) {
	var gotAuth string
	var gotPayload ReviewSubmission
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/reviews", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"review":{"id":"r-1"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	review, err := client.SubmitReview(context.Background(), "Bearer tok", ReviewSubmission{
		BookingID:    "b-1",
		ReviewerID:   "u-1",
		TargetUserID: "u-2",
		Comment:      "great session",
		ReviewerType: "student",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"id":"r-1"}`, string(review))
	require.Equal(t, "Bearer tok", gotAuth)
	require.Equal(t, "b-1", gotPayload.BookingID)
}

func TestConfirmReviewReportsAllConfirmed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/reviews/b-1/u-2/confirm", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"allPartiesConfirmed":true,"confirmCount":2}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	result, err := client.ConfirmReview(context.Background(), "", "b-1", "u-2")
	require.NoError(t, err)
	require.True(t, result.AllConfirmed())
	require.Equal(t, 2, result.ConfirmCount)
}

func TestConfirmReviewLegacyFlagSpelling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"reviewsConfirmed":true}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, 0, nil)
	result, err := client.ConfirmReview(context.Background(), "", "b-1", "u-2")
	require.NoError(t, err)
	require.True(t, result.AllConfirmed())
}
