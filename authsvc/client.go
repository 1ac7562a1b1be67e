// Package authsvc is the HTTP client for the user directory service, which
// owns user profiles and the review workflow.
package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrUpstream wraps transport failures and 5xx answers from the
	// directory service.
	ErrUpstream = errors.New("authsvc: upstream request failed")

	// ErrNotFound reports a user or review the directory does not know.
	ErrNotFound = errors.New("authsvc: not found")
)

// User is the directory's profile record.
type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
}

// FullName joins the name parts, tolerating empty ones.
func (u *User) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

// ReviewSubmission is the payload for a new review draft.
type ReviewSubmission struct {
	BookingID    string   `json:"bookingId"`
	ReviewerID   string   `json:"reviewerId"`
	TargetUserID string   `json:"targetUserId"`
	Comment      string   `json:"comment"`
	ReviewerType string   `json:"reviewerType"`
	Rating       *float64 `json:"rating,omitempty"`
}

// ConfirmResult is the directory's answer to an irreversible review
// confirmation. AllConfirmed reports whether every involved party has now
// locked in their review.
type ConfirmResult struct {
	Success             bool            `json:"success"`
	Review              json.RawMessage `json:"review"`
	AllPartiesConfirmed bool            `json:"allPartiesConfirmed"`
	ReviewsConfirmed    bool            `json:"reviewsConfirmed"`
	ConfirmCount        int             `json:"confirmCount"`
}

// AllConfirmed collapses the two flag spellings the directory has used.
func (r *ConfirmResult) AllConfirmed() bool {
	return r.AllPartiesConfirmed || r.ReviewsConfirmed
}

// Review is a stored review record, enriched with the reviewer profile.
type Review struct {
	ID           int      `json:"id"`
	BookingID    string   `json:"bookingId"`
	ReviewerID   string   `json:"reviewerId"`
	TargetUserID string   `json:"targetUserId"`
	Comment      string   `json:"comment"`
	Rating       *float64 `json:"rating"`
	ReviewerType string   `json:"reviewerType"`
	IsConfirmed  bool     `json:"isConfirmed"`
	Reviewer     *User    `json:"reviewer,omitempty"`
	Target       *User    `json:"target,omitempty"`
}

// ReviewList is the directory's per-booking review listing.
type ReviewList struct {
	Reviews      []Review `json:"reviews"`
	Count        int      `json:"count"`
	AllConfirmed bool     `json:"allConfirmed"`
}

// Client talks to the directory service.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With("component", "authsvc"),
	}
}

// User fetches one profile.
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	var envelope struct {
		Data User `json:"data"`
	}
	if err := c.get(ctx, "/api/users/"+userID, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}

// Users lists every profile the directory knows.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var envelope struct {
		Data []User `json:"data"`
	}
	if err := c.get(ctx, "/api/users", &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// Health probes the directory's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrUpstream, resp.StatusCode)
	}
	return nil
}

// SubmitReview forwards a review draft, passing the caller's bearer token
// through so the directory applies its own authorization.
func (c *Client) SubmitReview(ctx context.Context, bearer string, review ReviewSubmission) (json.RawMessage, error) {
	body, err := json.Marshal(review)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, "/api/reviews", bearer, body)
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Review json.RawMessage `json:"review"`
	}
	if err := json.Unmarshal(resp, &envelope); err == nil && len(envelope.Review) > 0 {
		return envelope.Review, nil
	}
	return resp, nil
}

// ConfirmReview locks in one party's review and reports whether all parties
// have now confirmed.
func (c *Client) ConfirmReview(ctx context.Context, bearer, bookingID, reviewerID string) (*ConfirmResult, error) {
	resp, err := c.post(ctx, "/api/reviews/"+bookingID+"/"+reviewerID+"/confirm", bearer, nil)
	if err != nil {
		return nil, err
	}
	result := &ConfirmResult{}
	if err := json.Unmarshal(resp, result); err != nil {
		return nil, fmt.Errorf("%w: decode confirm response: %w", ErrUpstream, err)
	}
	return result, nil
}

// Reviews lists every review stored for a booking or exchange identifier.
func (c *Client) Reviews(ctx context.Context, bookingID string) (*ReviewList, error) {
	list := &ReviewList{}
	if err := c.get(ctx, "/api/reviews/"+bookingID, list); err != nil {
		return nil, err
	}
	return list, nil
}

// UpdateRating asks the directory to recompute a tutor's aggregate rating.
func (c *Client) UpdateRating(ctx context.Context, tutorID string) error {
	_, err := c.post(ctx, "/api/profile/update-rating/"+tutorID, "", nil)
	return err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GET %s returned %d", ErrUpstream, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", ErrUpstream, path, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, bearer string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrUpstream, path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return nil, fmt.Errorf("%w: POST %s returned %d", ErrUpstream, path, resp.StatusCode)
	}
	return payload, nil
}
