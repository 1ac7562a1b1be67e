package history

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"educhain/authsvc"
	"educhain/cache"
	"educhain/chain"
	"educhain/escrow"
	"educhain/exchange"
	"educhain/observability/metrics"
)

// bookingMatchTolerance is the amount slack, in tokens, when matching an
// escrow deposit to its booking record.
const bookingMatchTolerance = 0.01

type chainReader interface {
	Escrow() chain.Contract
	TransferLogs(ctx context.Context, account common.Address, fromBlock, toBlock uint64) ([]chain.TransferEvent, error)
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
	LatestBlock(ctx context.Context) (uint64, error)
	TokenOwner(ctx context.Context) (common.Address, error)
	UserIDOf(ctx context.Context, account common.Address) (string, bool, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
}

type bookingReader interface {
	Count(ctx context.Context) (uint64, error)
	Get(ctx context.Context, bookingID uint64) (escrow.Booking, error)
	ForTutor(ctx context.Context, tutorID string) ([]escrow.Booking, error)
}

type exchangeReader interface {
	ForUser(ctx context.Context, userID string) ([]exchange.Exchange, error)
}

type directory interface {
	User(ctx context.Context, userID string) (*authsvc.User, error)
}

// Config tunes the projector's caches and default page size.
type Config struct {
	HistoryTTL    time.Duration
	StatsTTL      time.Duration
	WalletInfoTTL time.Duration
	DefaultLimit  int
}

func (c *Config) applyDefaults() {
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 15 * time.Second
	}
	if c.StatsTTL <= 0 {
		c.StatsTTL = 30 * time.Second
	}
	if c.WalletInfoTTL <= 0 {
		c.WalletInfoTTL = time.Minute
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 20
	}
}

// Projector builds transaction feeds and wallet statistics from chain state.
type Projector struct {
	chain     chainReader
	bookings  bookingReader
	exchanges exchangeReader
	users     directory
	store     cache.Cache
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
	metrics   *metrics.SettlementMetrics
}

func NewProjector(ch chainReader, bookings bookingReader, exchanges exchangeReader, users directory, store cache.Cache, cfg Config, log *slog.Logger) *Projector {
	cfg.applyDefaults()
	if store == nil {
		store = cache.NewMemory()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Projector{
		chain:     ch,
		bookings:  bookings,
		exchanges: exchanges,
		users:     users,
		store:     store,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With("component", "history"),
		metrics:   metrics.Settlement(),
	}
}

// History assembles the account's transaction feed, newest first. Results
// are cached briefly since the frontend polls this endpoint.
func (p *Projector) History(ctx context.Context, account common.Address, limit int, includeWalletInfo bool) ([]Record, error) {
	if limit <= 0 {
		limit = p.cfg.DefaultLimit
	}
	key := fmt.Sprintf("history:%s:%d:%t", account.Hex(), limit, includeWalletInfo)
	if cached, ok, err := p.store.Get(ctx, key); err == nil && ok {
		p.metrics.ObserveCacheLookup("history", true)
		var records []Record
		if err := json.Unmarshal(cached, &records); err == nil {
			return records, nil
		}
	}
	p.metrics.ObserveCacheLookup("history", false)

	started := time.Now()
	records, err := p.project(ctx, account, limit, includeWalletInfo)
	if err != nil {
		return nil, err
	}
	p.metrics.ObserveHistoryScan(time.Since(started).Seconds())

	if payload, err := json.Marshal(records); err == nil {
		if err := p.store.Put(ctx, key, payload, p.cfg.HistoryTTL); err != nil {
			p.log.Warn("could not cache history", "err", err)
		}
	}
	return records, nil
}

func (p *Projector) project(ctx context.Context, account common.Address, limit int, includeWalletInfo bool) ([]Record, error) {
	owner, err := p.chain.TokenOwner(ctx)
	if err != nil {
		return nil, err
	}
	latest, err := p.chain.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	events, err := p.chain.TransferLogs(ctx, account, 0, latest)
	if err != nil {
		return nil, err
	}

	// One transaction can emit both an EduTransfer and the plain ERC-20
	// Transfer; keep the annotated one.
	unique := make(map[common.Hash]chain.TransferEvent, len(events))
	for _, event := range events {
		if existing, ok := unique[event.TxHash]; ok && existing.Annotated && !event.Annotated {
			continue
		}
		unique[event.TxHash] = event
	}
	deduped := make([]chain.TransferEvent, 0, len(unique))
	for _, event := range unique {
		deduped = append(deduped, event)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].BlockNumber > deduped[j].BlockNumber })
	if len(deduped) > limit {
		deduped = deduped[:limit]
	}

	allBookings := p.loadBookings(ctx)
	escrowAddr := p.chain.Escrow().Address

	records := make([]Record, 0, len(deduped))
	seenBookings := make(map[uint64]bool)
	for _, event := range deduped {
		record, tutorRecord, ok := p.projectEvent(ctx, event, owner, escrowAddr, allBookings, includeWalletInfo, seenBookings)
		if !ok {
			continue
		}
		records = append(records, record)
		if tutorRecord != nil {
			records = append(records, *tutorRecord)
		}
	}

	userID, registered, err := p.chain.UserIDOf(ctx, account)
	if err != nil {
		p.log.Warn("could not resolve account user id", "account", account.Hex(), "err", err)
	}
	if registered {
		records = append(records, p.tutorSideRecords(ctx, account, userID, seenBookings, includeWalletInfo)...)
		records = append(records, p.exchangeRecords(ctx, userID)...)
	}
	return records, nil
}

// projectEvent turns one token movement into a feed record, applying the
// display filters: initial grants and escrow payouts are dropped because
// the feed already shows them as bookings.
func (p *Projector) projectEvent(ctx context.Context, event chain.TransferEvent, owner, escrowAddr common.Address, allBookings []escrow.Booking, includeWalletInfo bool, seenBookings map[uint64]bool) (Record, *Record, bool) {
	amount := chain.FromWei(event.AmountWei)
	description := event.Description
	if !event.Annotated {
		if event.From == owner && event.AmountWei.Cmp(chain.InitialGrantWei) == 0 {
			return Record{}, nil, false
		}
		if event.From == escrowAddr {
			return Record{}, nil, false
		}
		description = "Token transfer"
	}

	createdAt := time.Unix(int64(event.Timestamp), 0).UTC()
	if event.Timestamp == 0 {
		blockTime, err := p.chain.BlockTime(ctx, event.BlockNumber)
		if err != nil {
			p.log.Warn("could not resolve block time", "block", event.BlockNumber, "err", err)
			blockTime = time.Time{}
		}
		createdAt = blockTime
	}

	record := Record{
		ID:          event.TxHash.Hex()[:34],
		FromID:      event.From.Hex(),
		ToID:        event.To.Hex(),
		Amount:      amount,
		Type:        TypeTransfer,
		Status:      StatusCompleted,
		Description: description,
		CreatedAt:   createdAt,
		LedgerBlock: &LedgerBlock{Number: event.BlockNumber, Timestamp: createdAt.Unix()},
	}

	var tutorRecord *Record
	if event.To == escrowAddr {
		record.Type = TypeBooking
		if booking, ok := matchBooking(allBookings, event.From, amount); ok {
			seenBookings[booking.ID] = true
			record.Description = booking.Description
			record.Status = recordStatus(booking.Status)

			meta := BookingMetadata{
				BookingID: booking.ID,
				StartTime: booking.StartTime,
				Duration:  booking.Duration,
			}
			if tutorID, ok, err := p.chain.UserIDOf(ctx, booking.Tutor); err == nil && ok {
				meta.TutorID = tutorID
				if user, err := p.users.User(ctx, tutorID); err == nil {
					meta.TutorName = user.FullName()
				}
			}
			record.Metadata = meta

			// The deposit only shows the student side; surface the
			// pending payout to the tutor as its own entry.
			if meta.TutorID != "" {
				tutorRecord = &Record{
					ID:          record.ID + "_tutor",
					FromID:      event.From.Hex(),
					ToID:        meta.TutorID,
					Amount:      amount,
					Type:        TypeBooking,
					Status:      StatusPending,
					Description: record.Description,
					Metadata:    meta,
					CreatedAt:   createdAt,
					LedgerBlock: record.LedgerBlock,
				}
			}
		}
	}

	if includeWalletInfo {
		record.FromWallet = p.walletInfo(ctx, event.From)
		record.ToWallet = p.walletInfo(ctx, event.To)
		if tutorRecord != nil {
			tutorRecord.FromWallet = record.FromWallet
		}
	}
	return record, tutorRecord, true
}

// tutorSideRecords synthesizes incoming entries for bookings where the
// account is the tutor, since the deposit log only references the student.
func (p *Projector) tutorSideRecords(ctx context.Context, account common.Address, userID string, seenBookings map[uint64]bool, includeWalletInfo bool) []Record {
	bookings, err := p.bookings.ForTutor(ctx, userID)
	if err != nil {
		p.log.Warn("could not load tutor bookings", "user_id", userID, "err", err)
		return nil
	}

	var tutorName string
	if user, err := p.users.User(ctx, userID); err == nil {
		tutorName = user.FullName()
	}

	records := make([]Record, 0)
	for _, booking := range bookings {
		if seenBookings[booking.ID] {
			continue
		}
		record := Record{
			ID:          fmt.Sprintf("booking_%d_tutor", booking.ID),
			FromID:      booking.Student.Hex(),
			ToID:        userID,
			Amount:      booking.Amount,
			Type:        TypeBooking,
			Status:      recordStatus(booking.Status),
			Description: booking.Description,
			Metadata: BookingMetadata{
				BookingID: booking.ID,
				TutorID:   userID,
				TutorName: tutorName,
				StartTime: booking.StartTime,
				Duration:  booking.Duration,
			},
			CreatedAt: time.Unix(booking.CreatedAt, 0).UTC(),
		}
		if includeWalletInfo {
			record.FromWallet = p.walletInfo(ctx, booking.Student)
		}
		records = append(records, record)
	}
	return records
}

// exchangeRecords synthesizes zero-amount entries for the user's skill
// exchanges so they appear in the feed despite moving no tokens.
func (p *Projector) exchangeRecords(ctx context.Context, userID string) []Record {
	exchanges, err := p.exchanges.ForUser(ctx, userID)
	if err != nil {
		p.log.Warn("could not load skill exchanges", "user_id", userID, "err", err)
		return nil
	}
	records := make([]Record, 0, len(exchanges))
	for _, exch := range exchanges {
		records = append(records, Record{
			ID:          fmt.Sprintf("skill_exchange_%d_%d", exch.ID, exch.CreatedAt),
			FromID:      exch.StudentID,
			ToID:        exch.TutorID,
			Type:        TypeSkillExchange,
			Status:      exchangeStatus(exch.Status.String()),
			Description: "Skill exchange",
			Metadata: ExchangeMetadata{
				ExchangeID:     exch.ID,
				StudentID:      exch.StudentID,
				TutorID:        exch.TutorID,
				SkillOffered:   exch.SkillOffered,
				SkillRequested: exch.SkillRequested,
				Status:         exch.Status.String(),
				FrontendID:     exch.FrontendID,
			},
			CreatedAt: time.Unix(exch.CreatedAt, 0).UTC(),
		})
	}
	return records
}

func (p *Projector) loadBookings(ctx context.Context) []escrow.Booking {
	count, err := p.bookings.Count(ctx)
	if err != nil {
		p.log.Warn("could not read booking count", "err", err)
		return nil
	}
	bookings := make([]escrow.Booking, 0, count)
	for id := uint64(0); id < count; id++ {
		booking, err := p.bookings.Get(ctx, id)
		if err != nil {
			continue
		}
		bookings = append(bookings, booking)
	}
	return bookings
}

func matchBooking(bookings []escrow.Booking, student common.Address, amount float64) (escrow.Booking, bool) {
	for _, booking := range bookings {
		if booking.Student == student && math.Abs(booking.Amount-amount) < bookingMatchTolerance {
			return booking, true
		}
	}
	return escrow.Booking{}, false
}

// walletInfo resolves the directory profile behind an address, with its
// own cache since the same addresses repeat across a feed.
func (p *Projector) walletInfo(ctx context.Context, account common.Address) *WalletInfo {
	key := "walletinfo:" + account.Hex()
	if cached, ok, err := p.store.Get(ctx, key); err == nil && ok {
		p.metrics.ObserveCacheLookup("wallet_info", true)
		info := &WalletInfo{}
		if err := json.Unmarshal(cached, info); err == nil {
			return info
		}
	}
	p.metrics.ObserveCacheLookup("wallet_info", false)

	info := &WalletInfo{ID: account.Hex(), WalletAddress: account.Hex()}
	if userID, ok, err := p.chain.UserIDOf(ctx, account); err == nil && ok {
		if user, err := p.users.User(ctx, userID); err == nil {
			info.ID = userID
			info.User = user
		}
	}
	if payload, err := json.Marshal(info); err == nil {
		_ = p.store.Put(ctx, key, payload, p.cfg.WalletInfoTTL)
	}
	return info
}
