package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"educhain/authsvc"
	"educhain/chain"
	"educhain/escrow"
	"educhain/exchange"
	"educhain/history"
	"educhain/reputation"
	"educhain/wallet"
)

const (
	studentID = "0b54a9f2-9a52-4b69-a3c5-2f8f3b7d9a01"
	tutorID   = "7c1d2e3f-4a5b-4c6d-8e9f-0a1b2c3d4e5f"
)

type fakeWallets struct {
	balanceFn  func(ctx context.Context, userID string) (*wallet.Balance, error)
	transferFn func(ctx context.Context, from, to string, amount float64, desc string) (*wallet.TransferReceipt, error)
	historyFn  func(ctx context.Context, userID string, limit int) ([]history.Record, error)

	balanceCalls []string
}

func (f *fakeWallets) Balance(ctx context.Context, userID string) (*wallet.Balance, error) {
	f.balanceCalls = append(f.balanceCalls, userID)
	if f.balanceFn != nil {
		return f.balanceFn(ctx, userID)
	}
	return &wallet.Balance{User: &authsvc.User{ID: userID}, Available: 600, Total: 600}, nil
}

func (f *fakeWallets) Register(ctx context.Context, userID string) (*wallet.RegistrationReceipt, error) {
	return &wallet.RegistrationReceipt{UserID: userID}, nil
}

func (f *fakeWallets) Verify(ctx context.Context, userID string) (*wallet.Verification, error) {
	return &wallet.Verification{ExistsOnChain: true}, nil
}

func (f *fakeWallets) Transfer(ctx context.Context, from, to string, amount float64, desc string) (*wallet.TransferReceipt, error) {
	if f.transferFn != nil {
		return f.transferFn(ctx, from, to, amount, desc)
	}
	return &wallet.TransferReceipt{From: common.HexToAddress(from), To: common.HexToAddress(to), Amount: amount}, nil
}

func (f *fakeWallets) History(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	if f.historyFn != nil {
		return f.historyFn(ctx, userID, limit)
	}
	return []history.Record{}, nil
}

func (f *fakeWallets) Stats(ctx context.Context, userID string) (*history.StatsReport, error) {
	return &history.StatsReport{}, nil
}

type fakeBookings struct {
	createFn  func(ctx context.Context, req escrow.CreateRequest) (*escrow.CreateReceipt, error)
	getFn     func(ctx context.Context, id uint64) (escrow.Booking, error)
	resolveFn func(ctx context.Context, frontendID string) (uint64, error)
	confirmFn func(ctx context.Context, id uint64, tutorID string) (*escrow.ActionReceipt, error)

	outcomes []bool
}

func (f *fakeBookings) Create(ctx context.Context, req escrow.CreateRequest) (*escrow.CreateReceipt, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &escrow.CreateReceipt{BookingID: 1, FrontendID: req.FrontendID, Status: "PENDING"}, nil
}

func (f *fakeBookings) Confirm(ctx context.Context, id uint64, tutor string) (*escrow.ActionReceipt, error) {
	if f.confirmFn != nil {
		return f.confirmFn(ctx, id, tutor)
	}
	return &escrow.ActionReceipt{BookingID: id, Status: "CONFIRMED"}, nil
}

func (f *fakeBookings) Reject(ctx context.Context, id uint64, tutor string) (*escrow.ActionReceipt, error) {
	return &escrow.ActionReceipt{BookingID: id, Status: "CANCELLED"}, nil
}

func (f *fakeBookings) ConfirmOutcome(ctx context.Context, id uint64, userID string, courseHeld bool) (*escrow.ActionReceipt, error) {
	f.outcomes = append(f.outcomes, courseHeld)
	return &escrow.ActionReceipt{BookingID: id, CourseHeld: &courseHeld}, nil
}

func (f *fakeBookings) Get(ctx context.Context, id uint64) (escrow.Booking, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id)
	}
	return escrow.Booking{ID: id, Status: escrow.StatusConfirmed}, nil
}

func (f *fakeBookings) ResolveFrontendID(ctx context.Context, frontendID string) (uint64, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, frontendID)
	}
	return 1, nil
}

func (f *fakeBookings) ForStudent(ctx context.Context, studentID string) ([]escrow.Booking, error) {
	return []escrow.Booking{}, nil
}

func (f *fakeBookings) ForTutor(ctx context.Context, tutorID string) ([]escrow.Booking, error) {
	return []escrow.Booking{}, nil
}

type fakeExchanges struct {
	accepted []uint64
}

func (f *fakeExchanges) Create(ctx context.Context, req exchange.CreateRequest) (*exchange.CreateReceipt, error) {
	return &exchange.CreateReceipt{ExchangeID: 9, FrontendID: req.FrontendID, Status: "PENDING"}, nil
}

func (f *fakeExchanges) Accept(ctx context.Context, id uint64, tutor string) (*exchange.ActionReceipt, error) {
	f.accepted = append(f.accepted, id)
	return &exchange.ActionReceipt{ExchangeID: id, Status: "ACCEPTED"}, nil
}

func (f *fakeExchanges) Reject(ctx context.Context, id uint64, tutor string) (*exchange.ActionReceipt, error) {
	return &exchange.ActionReceipt{ExchangeID: id, Status: "REJECTED"}, nil
}

func (f *fakeExchanges) Complete(ctx context.Context, id uint64, userID string) (*exchange.ActionReceipt, error) {
	return &exchange.ActionReceipt{ExchangeID: id, Status: "COMPLETED"}, nil
}

func (f *fakeExchanges) Get(ctx context.Context, id uint64) (exchange.Exchange, error) {
	return exchange.Exchange{ID: id, Status: exchange.StatusPending}, nil
}

func (f *fakeExchanges) ForUser(ctx context.Context, userID string) ([]exchange.Exchange, error) {
	return []exchange.Exchange{}, nil
}

type fakeReviews struct {
	bearers []string
}

func (f *fakeReviews) SubmitBookingReview(ctx context.Context, bearer string, id uint64, reviewer string, req reputation.ReviewRequest) (json.RawMessage, error) {
	f.bearers = append(f.bearers, bearer)
	return json.RawMessage(`{"id":1}`), nil
}

func (f *fakeReviews) ConfirmBookingReview(ctx context.Context, bearer string, id uint64, reviewer string) (*reputation.ConfirmReceipt, error) {
	f.bearers = append(f.bearers, bearer)
	return &reputation.ConfirmReceipt{ConfirmCount: 1}, nil
}

func (f *fakeReviews) SubmitExchangeReview(ctx context.Context, bearer string, id uint64, reviewer string, req reputation.ReviewRequest) (json.RawMessage, error) {
	f.bearers = append(f.bearers, bearer)
	return json.RawMessage(`{"id":2}`), nil
}

func (f *fakeReviews) ConfirmExchangeReview(ctx context.Context, bearer string, id uint64, reviewer string) (*reputation.ConfirmReceipt, error) {
	f.bearers = append(f.bearers, bearer)
	return &reputation.ConfirmReceipt{ConfirmCount: 1}, nil
}

func (f *fakeReviews) BookingReviews(ctx context.Context, id uint64) (*authsvc.ReviewList, error) {
	return &authsvc.ReviewList{Reviews: []authsvc.Review{}}, nil
}

func (f *fakeReviews) ExchangeReviews(ctx context.Context, id uint64) (*authsvc.ReviewList, error) {
	return &authsvc.ReviewList{Reviews: []authsvc.Review{}}, nil
}

type fakeNode struct {
	err error
}

func (f *fakeNode) LatestBlock(ctx context.Context) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 1234, nil
}

type fakeDirectory struct {
	err error
}

func (f *fakeDirectory) Health(ctx context.Context) error { return f.err }

type serverFixture struct {
	wallets   *fakeWallets
	bookings  *fakeBookings
	exchanges *fakeExchanges
	reviews   *fakeReviews
	node      *fakeNode
	directory *fakeDirectory
	handler   http.Handler
}

func newFixture(t *testing.T, secret string) *serverFixture {
	t.Helper()
	f := &serverFixture{
		wallets:   &fakeWallets{},
		bookings:  &fakeBookings{},
		exchanges: &fakeExchanges{},
		reviews:   &fakeReviews{},
		node:      &fakeNode{},
		directory: &fakeDirectory{},
	}
	srv := New(f.wallets, f.bookings, f.exchanges, f.reviews, f.node, f.directory, NewAuthenticator(secret), nil)
	f.handler = srv.Handler()
	return f
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return raw
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	f := newFixture(t, "")

	rec := doJSON(t, f.handler, http.MethodGet, "/api/blockchain/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Empty(t, f.wallets.balanceCalls)
}

func TestAuthenticatorEnforcesSignature(t *testing.T) {
	f := newFixture(t, "service-secret")

	forged := signToken(t, "wrong-secret", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodGet, "/api/blockchain/balance", forged, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	genuine := signToken(t, "service-secret", jwt.MapClaims{"id": studentID})
	rec = doJSON(t, f.handler, http.MethodGet, "/api/blockchain/balance", genuine, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{studentID}, f.wallets.balanceCalls)
}

func TestAuthenticatorClaimPrecedence(t *testing.T) {
	f := newFixture(t, "")

	token := signToken(t, "ignored", jwt.MapClaims{"sub": tutorID, "id": studentID})
	rec := doJSON(t, f.handler, http.MethodGet, "/api/blockchain/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{studentID}, f.wallets.balanceCalls)

	token = signToken(t, "ignored", jwt.MapClaims{"sub": tutorID})
	rec = doJSON(t, f.handler, http.MethodGet, "/api/blockchain/balance", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{studentID, tutorID}, f.wallets.balanceCalls)
}

func TestCreateBookingParsesLegacySchedule(t *testing.T) {
	f := newFixture(t, "")
	var got escrow.CreateRequest
	f.bookings.createFn = func(ctx context.Context, req escrow.CreateRequest) (*escrow.CreateReceipt, error) {
		got = req
		return &escrow.CreateReceipt{BookingID: 3, FrontendID: req.FrontendID, Status: "PENDING"}, nil
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/booking", token, map[string]any{
		"tutorId": tutorID,
		"amount":  25.0,
		"date":    "2026-09-01",
		"time":    "14:30",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Equal(t, studentID, got.StudentID)
	require.Equal(t, tutorID, got.TutorID)
	wantStart, err := time.Parse("2006-01-02T15:04", "2026-09-01T14:30")
	require.NoError(t, err)
	require.Equal(t, wantStart.Unix(), got.StartTime)
	require.EqualValues(t, 60, got.Duration)
	require.NoError(t, uuid.Validate(got.FrontendID))
}

func TestCreateBookingRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, "")
	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})

	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/booking", token, map[string]any{
		"tutorId":   tutorID,
		"amount":    0,
		"startTime": time.Now().Add(time.Hour).Unix(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfirmOutcomeRejectedBeforeStart(t *testing.T) {
	f := newFixture(t, "")
	f.bookings.getFn = func(ctx context.Context, id uint64) (escrow.Booking, error) {
		return escrow.Booking{
			ID:        id,
			Status:    escrow.StatusConfirmed,
			StartTime: time.Now().Add(time.Hour).Unix(),
		}, nil
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/booking/"+uuid.NewString()+"/confirm-outcome", token, map[string]any{
		"courseHeld": true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.bookings.outcomes)
}

func TestConfirmOutcomeRecordsVote(t *testing.T) {
	f := newFixture(t, "")
	f.bookings.getFn = func(ctx context.Context, id uint64) (escrow.Booking, error) {
		return escrow.Booking{
			ID:        id,
			Status:    escrow.StatusConfirmed,
			StartTime: time.Now().Add(-time.Hour).Unix(),
		}, nil
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/booking/"+uuid.NewString()+"/confirm-outcome", token, map[string]any{
		"courseHeld": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []bool{false}, f.bookings.outcomes)
}

func TestUnknownBookingIs404(t *testing.T) {
	f := newFixture(t, "")
	f.bookings.resolveFn = func(ctx context.Context, frontendID string) (uint64, error) {
		return 0, escrow.ErrBookingNotFound
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": tutorID})
	rec := doJSON(t, f.handler, http.MethodPatch, "/api/blockchain/booking/"+uuid.NewString()+"/confirm", token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNonPartyLifecycleCallIs403(t *testing.T) {
	f := newFixture(t, "")
	f.bookings.confirmFn = func(ctx context.Context, id uint64, tutor string) (*escrow.ActionReceipt, error) {
		return nil, escrow.ErrUnauthorized
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodPatch, "/api/blockchain/booking/"+uuid.NewString()+"/confirm", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTransferInsufficientBalanceIs400(t *testing.T) {
	f := newFixture(t, "")
	f.wallets.transferFn = func(ctx context.Context, from, to string, amount float64, desc string) (*wallet.TransferReceipt, error) {
		return nil, chain.ErrInsufficientBalance
	}

	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})
	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/transfer", token, map[string]any{
		"toWalletAddress": "0x1111111111111111111111111111111111111111",
		"amount":          9000.0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.NotEmpty(t, body.Error)
}

func TestHistoryLimitValidated(t *testing.T) {
	f := newFixture(t, "")
	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})

	rec := doJSON(t, f.handler, http.MethodGet, "/api/blockchain/history?limit=0", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, f.handler, http.MethodGet, "/api/blockchain/history?limit=101", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var limits []int
	f.wallets.historyFn = func(ctx context.Context, userID string, limit int) ([]history.Record, error) {
		limits = append(limits, limit)
		return []history.Record{}, nil
	}
	rec = doJSON(t, f.handler, http.MethodGet, "/api/blockchain/history", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{50}, limits)
}

func TestExchangeIDMustBeNumeric(t *testing.T) {
	f := newFixture(t, "")
	token := signToken(t, "ignored", jwt.MapClaims{"id": tutorID})

	rec := doJSON(t, f.handler, http.MethodPatch, "/api/blockchain/skill-exchange/not-a-number/accept", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, f.exchanges.accepted)

	rec = doJSON(t, f.handler, http.MethodPatch, "/api/blockchain/skill-exchange/41/accept", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []uint64{41}, f.exchanges.accepted)
}

func TestReviewRoutesForwardBearer(t *testing.T) {
	f := newFixture(t, "")
	token := signToken(t, "ignored", jwt.MapClaims{"id": studentID})

	rec := doJSON(t, f.handler, http.MethodPost, "/api/blockchain/skill-exchange/7/submit-review", token, map[string]any{
		"comment": "great session",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Bearer " + token}, f.reviews.bearers)
}

func TestStatusReportsDegradedDependencies(t *testing.T) {
	f := newFixture(t, "")

	rec := doJSON(t, f.handler, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	f.node.err = errors.New("connection refused")
	rec = doJSON(t, f.handler, http.MethodGet, "/status", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthzIsPublic(t *testing.T) {
	f := newFixture(t, "")
	rec := doJSON(t, f.handler, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
