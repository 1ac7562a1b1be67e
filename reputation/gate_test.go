package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"educhain/authsvc"
	"educhain/crypto"
	"educhain/escrow"
	"educhain/exchange"
)

const (
	studentID = "11111111-1111-4111-8111-111111111111"
	tutorID   = "22222222-2222-4222-8222-222222222222"
	otherID   = "33333333-3333-4333-8333-333333333333"
)

type fakeStore struct {
	submitted []authsvc.ReviewSubmission
	confirmed []string
	result    *authsvc.ConfirmResult
	ratings   []string
	ratingErr error
	reviews   *authsvc.ReviewList
}

func (f *fakeStore) SubmitReview(_ context.Context, _ string, review authsvc.ReviewSubmission) (json.RawMessage, error) {
	f.submitted = append(f.submitted, review)
	return json.RawMessage(`{"id":1}`), nil
}

func (f *fakeStore) ConfirmReview(_ context.Context, _, bookingID, reviewerID string) (*authsvc.ConfirmResult, error) {
	f.confirmed = append(f.confirmed, bookingID+"/"+reviewerID)
	if f.result != nil {
		return f.result, nil
	}
	return &authsvc.ConfirmResult{Success: true, ConfirmCount: 1}, nil
}

func (f *fakeStore) Reviews(context.Context, string) (*authsvc.ReviewList, error) {
	if f.reviews != nil {
		return f.reviews, nil
	}
	return &authsvc.ReviewList{}, nil
}

func (f *fakeStore) UpdateRating(_ context.Context, tutorID string) error {
	f.ratings = append(f.ratings, tutorID)
	return f.ratingErr
}

type fakeBookings struct {
	booking  escrow.Booking
	getErr   error
	outcomes []string
	voteErr  error
}

func (f *fakeBookings) Get(context.Context, uint64) (escrow.Booking, error) {
	return f.booking, f.getErr
}

func (f *fakeBookings) ConfirmOutcome(_ context.Context, _ uint64, userID string, courseHeld bool) (*escrow.ActionReceipt, error) {
	f.outcomes = append(f.outcomes, userID)
	if !courseHeld {
		panic("settlement must vote courseHeld=true")
	}
	return &escrow.ActionReceipt{}, f.voteErr
}

type fakeExchanges struct {
	exchange  exchange.Exchange
	getErr    error
	completed []uint64
	compErr   error
}

func (f *fakeExchanges) Get(context.Context, uint64) (exchange.Exchange, error) {
	return f.exchange, f.getErr
}

func (f *fakeExchanges) Complete(_ context.Context, exchangeID uint64, _ string) (*exchange.ActionReceipt, error) {
	f.completed = append(f.completed, exchangeID)
	return &exchange.ActionReceipt{}, f.compErr
}

type fakeRegistry struct {
	ids map[common.Address]string
}

func (f *fakeRegistry) UserIDOf(_ context.Context, account common.Address) (string, bool, error) {
	id, ok := f.ids[account]
	return id, ok, nil
}

func testDeriver(t *testing.T) *crypto.Deriver {
	t.Helper()
	deriver, err := crypto.NewDeriver("test-master-secret")
	require.NoError(t, err)
	return deriver
}

func mustAddr(t *testing.T, deriver *crypto.Deriver, userID string) common.Address {
	t.Helper()
	addr, err := deriver.Address(userID)
	require.NoError(t, err)
	return addr
}

func testExchange() exchange.Exchange {
	return exchange.Exchange{
		ID:         7,
		StudentID:  studentID,
		TutorID:    tutorID,
		Status:     exchange.StatusAccepted,
		FrontendID: "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee",
	}
}

func newTestGate(t *testing.T, store *fakeStore, bookings *fakeBookings, exchanges *fakeExchanges, reg *fakeRegistry) *Gate {
	t.Helper()
	if store == nil {
		store = &fakeStore{}
	}
	if bookings == nil {
		bookings = &fakeBookings{}
	}
	if exchanges == nil {
		exchanges = &fakeExchanges{}
	}
	if reg == nil {
		reg = &fakeRegistry{}
	}
	return NewGate(store, bookings, exchanges, reg, testDeriver(t), nil)
}

func TestSubmitExchangeReviewDefaultsTarget(t *testing.T) {
	store := &fakeStore{}
	exchanges := &fakeExchanges{exchange: testExchange()}
	gate := newTestGate(t, store, nil, exchanges, nil)

	_, err := gate.SubmitExchangeReview(context.Background(), "Bearer x", 7, tutorID, ReviewRequest{
		Comment: "  great session  ",
	})
	require.NoError(t, err)
	require.Len(t, store.submitted, 1)
	sub := store.submitted[0]
	require.Equal(t, "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee", sub.BookingID)
	require.Equal(t, tutorID, sub.ReviewerID)
	require.Equal(t, studentID, sub.TargetUserID)
	require.Equal(t, "tutor", sub.ReviewerType)
	require.Equal(t, "great session", sub.Comment)
}

func TestSubmitExchangeReviewRejectsOutsiders(t *testing.T) {
	gate := newTestGate(t, nil, nil, &fakeExchanges{exchange: testExchange()}, nil)

	_, err := gate.SubmitExchangeReview(context.Background(), "", 7, otherID, ReviewRequest{Comment: "hi"})
	require.ErrorIs(t, err, ErrNotParticipant)

	_, err = gate.SubmitExchangeReview(context.Background(), "", 7, studentID, ReviewRequest{Comment: "   "})
	require.ErrorIs(t, err, ErrEmptyComment)

	_, err = gate.SubmitExchangeReview(context.Background(), "", 7, studentID, ReviewRequest{
		Comment: "hi", TargetUserID: otherID,
	})
	require.ErrorIs(t, err, ErrInvalidTarget)
}

func TestConfirmExchangeReviewCompletesWhenMutual(t *testing.T) {
	store := &fakeStore{result: &authsvc.ConfirmResult{Success: true, AllPartiesConfirmed: true, ConfirmCount: 2}}
	exchanges := &fakeExchanges{exchange: testExchange()}
	gate := newTestGate(t, store, nil, exchanges, nil)

	receipt, err := gate.ConfirmExchangeReview(context.Background(), "Bearer x", 7, studentID)
	require.NoError(t, err)
	require.True(t, receipt.AllConfirmed)
	require.Equal(t, 2, receipt.ConfirmCount)
	require.Equal(t, []uint64{7}, exchanges.completed)
	require.Equal(t, []string{tutorID}, store.ratings)
	require.Equal(t, []string{"aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee/" + studentID}, store.confirmed)
}

func TestConfirmExchangeReviewLegacyFlagSpelling(t *testing.T) {
	store := &fakeStore{result: &authsvc.ConfirmResult{Success: true, ReviewsConfirmed: true}}
	exchanges := &fakeExchanges{exchange: testExchange()}
	gate := newTestGate(t, store, nil, exchanges, nil)

	receipt, err := gate.ConfirmExchangeReview(context.Background(), "", 7, tutorID)
	require.NoError(t, err)
	require.True(t, receipt.AllConfirmed)
	require.Len(t, exchanges.completed, 1)
}

func TestConfirmExchangeReviewSurvivesCompletionFailure(t *testing.T) {
	store := &fakeStore{result: &authsvc.ConfirmResult{AllPartiesConfirmed: true}}
	exchanges := &fakeExchanges{exchange: testExchange(), compErr: errors.New("reverted")}
	gate := newTestGate(t, store, nil, exchanges, nil)

	receipt, err := gate.ConfirmExchangeReview(context.Background(), "", 7, studentID)
	require.NoError(t, err)
	require.True(t, receipt.AllConfirmed)
}

func TestConfirmExchangeReviewPartialConfirmation(t *testing.T) {
	store := &fakeStore{result: &authsvc.ConfirmResult{Success: true, ConfirmCount: 1}}
	exchanges := &fakeExchanges{exchange: testExchange()}
	gate := newTestGate(t, store, nil, exchanges, nil)

	receipt, err := gate.ConfirmExchangeReview(context.Background(), "", 7, studentID)
	require.NoError(t, err)
	require.False(t, receipt.AllConfirmed)
	require.Empty(t, exchanges.completed)
	require.Empty(t, store.ratings)
}

func TestSubmitBookingReviewResolvesCounterpart(t *testing.T) {
	deriver := testDeriver(t)
	store := &fakeStore{}
	bookings := &fakeBookings{booking: escrow.Booking{
		ID:         3,
		FrontendID: "bbbbbbbb-cccc-4ddd-8eee-ffffffffffff",
		Student:    mustAddr(t, deriver, studentID),
		Tutor:      mustAddr(t, deriver, tutorID),
	}}
	reg := &fakeRegistry{ids: map[common.Address]string{
		mustAddr(t, deriver, tutorID): tutorID,
	}}
	gate := newTestGate(t, store, bookings, nil, reg)

	_, err := gate.SubmitBookingReview(context.Background(), "Bearer x", 3, studentID, ReviewRequest{
		Comment: "patient tutor",
	})
	require.NoError(t, err)
	require.Len(t, store.submitted, 1)
	sub := store.submitted[0]
	require.Equal(t, "bbbbbbbb-cccc-4ddd-8eee-ffffffffffff", sub.BookingID)
	require.Equal(t, "student", sub.ReviewerType)
	require.Equal(t, tutorID, sub.TargetUserID)
}

func TestConfirmBookingReviewCastsMissingVotes(t *testing.T) {
	deriver := testDeriver(t)
	started := time.Now().Add(-time.Hour).Unix()
	store := &fakeStore{result: &authsvc.ConfirmResult{AllPartiesConfirmed: true, ConfirmCount: 2}}
	bookings := &fakeBookings{booking: escrow.Booking{
		ID:               3,
		FrontendID:       "bbbbbbbb-cccc-4ddd-8eee-ffffffffffff",
		Student:          mustAddr(t, deriver, studentID),
		Tutor:            mustAddr(t, deriver, tutorID),
		StartTime:        started,
		Status:           escrow.StatusConfirmed,
		StudentConfirmed: true,
	}}
	reg := &fakeRegistry{ids: map[common.Address]string{
		mustAddr(t, deriver, studentID): studentID,
		mustAddr(t, deriver, tutorID):   tutorID,
	}}
	gate := newTestGate(t, store, bookings, nil, reg)

	receipt, err := gate.ConfirmBookingReview(context.Background(), "Bearer x", 3, studentID)
	require.NoError(t, err)
	require.True(t, receipt.AllConfirmed)
	// The student already voted on chain, so only the tutor's vote goes out.
	require.Equal(t, []string{tutorID}, bookings.outcomes)
	require.Equal(t, []string{tutorID}, store.ratings)
}

func TestConfirmBookingReviewDefersBeforeStart(t *testing.T) {
	deriver := testDeriver(t)
	store := &fakeStore{result: &authsvc.ConfirmResult{AllPartiesConfirmed: true}}
	bookings := &fakeBookings{booking: escrow.Booking{
		ID:         3,
		FrontendID: "bbbbbbbb-cccc-4ddd-8eee-ffffffffffff",
		Student:    mustAddr(t, deriver, studentID),
		Tutor:      mustAddr(t, deriver, tutorID),
		StartTime:  time.Now().Add(time.Hour).Unix(),
	}}
	gate := newTestGate(t, store, bookings, nil, nil)

	receipt, err := gate.ConfirmBookingReview(context.Background(), "", 3, studentID)
	require.NoError(t, err)
	require.True(t, receipt.AllConfirmed)
	require.Empty(t, bookings.outcomes)
}

func TestConfirmBookingReviewRejectsOutsiders(t *testing.T) {
	deriver := testDeriver(t)
	bookings := &fakeBookings{booking: escrow.Booking{
		Student: mustAddr(t, deriver, studentID),
		Tutor:   mustAddr(t, deriver, tutorID),
	}}
	gate := newTestGate(t, nil, bookings, nil, nil)

	_, err := gate.ConfirmBookingReview(context.Background(), "", 3, otherID)
	require.ErrorIs(t, err, ErrNotParticipant)
}
