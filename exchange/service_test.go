package exchange

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"educhain/chain"
	"educhain/crypto"
	"educhain/ident"
)

const (
	studentID  = "a3bb189e-8bf9-3888-9912-ace4e6543002"
	tutorID    = "b4cc290f-9c0a-4999-aa23-bdf5f7654113"
	frontendID = "c5dd3a10-ad1b-5aaa-bb34-ce06a8765224"
)

type submitCall struct {
	method string
	opts   chain.SubmitOpts
	args   []any
}

type fakeGateway struct {
	exchange chain.Contract

	submissions []submitCall
	submitErr   error

	transfers   []string
	transferErr error

	callFn func(method string, args []any) ([]any, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		exchange: chain.Contract{
			Name:    "exchange",
			Address: common.HexToAddress("0x3333333333333333333333333333333333333333"),
			ABI:     chain.ExchangeABI,
		},
	}
}

func (f *fakeGateway) Exchange() chain.Contract { return f.exchange }

func (f *fakeGateway) Call(_ context.Context, _ chain.Contract, method string, args ...any) ([]any, error) {
	return f.callFn(method, args)
}

func (f *fakeGateway) CallUint(ctx context.Context, c chain.Contract, method string, args ...any) (*big.Int, error) {
	out, err := f.Call(ctx, c, method, args...)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (f *fakeGateway) Submit(_ context.Context, _ *crypto.PrivateKey, _ chain.Contract, method string, opts chain.SubmitOpts, args ...any) (*chain.Submission, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submissions = append(f.submissions, submitCall{method: method, opts: opts, args: args})
	return &chain.Submission{Hash: common.HexToHash("0xfeed"), BlockNumber: 42}, nil
}

func (f *fakeGateway) EnsureGasFunds(context.Context, common.Address, uint64) error { return nil }

func (f *fakeGateway) Transfer(_ context.Context, _ *crypto.PrivateKey, _ common.Address, amountWei *big.Int, description string) (*chain.Submission, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}
	if amountWei.Sign() != 0 {
		panic("history marker must be zero amount")
	}
	f.transfers = append(f.transfers, description)
	return &chain.Submission{}, nil
}

func newTestService(t *testing.T, gw *fakeGateway) *Service {
	t.Helper()
	deriver, err := crypto.NewDeriver("exchange-test-secret")
	require.NoError(t, err)
	return NewService(gw, deriver, nil)
}

func createRequest() CreateRequest {
	return CreateRequest{
		StudentID:      studentID,
		TutorID:        tutorID,
		SkillOffered:   `{"name":"Go"}`,
		SkillRequested: `{"name":"Rust"}`,
		FrontendID:     frontendID,
	}
}

func TestCreateResolvesIDAndRecordsMarker(t *testing.T) {
	gw := newFakeGateway()
	gw.callFn = func(method string, _ []any) ([]any, error) {
		require.Equal(t, "getExchangeByFrontendId", method)
		return []any{big.NewInt(12)}, nil
	}
	s := newTestService(t, gw)

	receipt, err := s.Create(context.Background(), createRequest())
	require.NoError(t, err)
	require.Equal(t, uint64(12), receipt.ExchangeID)
	require.Equal(t, "PENDING", receipt.Status)

	require.Len(t, gw.submissions, 1)
	created := gw.submissions[0]
	require.Equal(t, "createExchange", created.method)
	require.True(t, created.opts.Estimate)
	require.Equal(t, uint64(gasCreateFallback), created.opts.GasLimit)

	require.Equal(t, []string{"Skill Exchange Request: Rust"}, gw.transfers)
}

func TestCreateSucceedsWhenMarkerFails(t *testing.T) {
	gw := newFakeGateway()
	gw.transferErr = chain.ErrConfirmationTimeout
	gw.callFn = func(string, []any) ([]any, error) {
		return []any{big.NewInt(1)}, nil
	}
	s := newTestService(t, gw)

	receipt, err := s.Create(context.Background(), createRequest())
	require.NoError(t, err)
	require.Equal(t, uint64(1), receipt.ExchangeID)
}

func TestCreateMarkerHandlesOpaqueSkillPayload(t *testing.T) {
	gw := newFakeGateway()
	gw.callFn = func(string, []any) ([]any, error) {
		return []any{big.NewInt(1)}, nil
	}
	s := newTestService(t, gw)

	req := createRequest()
	req.SkillRequested = "plain text skill"
	_, err := s.Create(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []string{"Skill Exchange Request"}, gw.transfers)
}

func TestAcceptPassesTutorIdentifier(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(t, gw)

	receipt, err := s.Accept(context.Background(), 7, tutorID)
	require.NoError(t, err)
	require.Equal(t, "ACCEPTED", receipt.Status)

	call := gw.submissions[0]
	require.Equal(t, "acceptExchange", call.method)
	require.Equal(t, big.NewInt(7).String(), call.args[0].(*big.Int).String())

	wantID, err := ident.ToChainID(tutorID)
	require.NoError(t, err)
	require.Equal(t, [32]byte(wantID), call.args[1])
}

func TestCompleteOmitsCallerIdentifier(t *testing.T) {
	gw := newFakeGateway()
	s := newTestService(t, gw)

	receipt, err := s.Complete(context.Background(), 3, studentID)
	require.NoError(t, err)
	require.Equal(t, "COMPLETED", receipt.Status)
	require.Len(t, gw.submissions[0].args, 1)
}

func TestForUserScansOneBasedIDs(t *testing.T) {
	student, err := ident.ToChainID(studentID)
	require.NoError(t, err)
	other, err := ident.ToChainID(tutorID)
	require.NoError(t, err)
	unrelated, err := ident.ToChainID("d6ee4b21-be2c-6bbb-cc45-df17b9876335")
	require.NoError(t, err)

	record := func(student, tutor ident.ChainID) []any {
		return []any{
			[32]byte(student), [32]byte(tutor), `{"name":"Go"}`, `{"name":"Rust"}`,
			uint8(StatusAccepted), big.NewInt(1_890_000_000), [32]byte{},
		}
	}

	gw := newFakeGateway()
	var requested []uint64
	gw.callFn = func(method string, args []any) ([]any, error) {
		if method == "getExchangeCount" {
			return []any{big.NewInt(3)}, nil
		}
		id := args[0].(*big.Int).Uint64()
		requested = append(requested, id)
		if id == 2 {
			return record(student, other), nil
		}
		return record(unrelated, other), nil
	}
	s := newTestService(t, gw)

	exchanges, err := s.ForUser(context.Background(), studentID)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, requested)
	require.Len(t, exchanges, 1)
	require.Equal(t, uint64(2), exchanges[0].ID)
}
