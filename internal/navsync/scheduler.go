// Package navsync keeps fund NAVs current. The Scheduler polls on a fixed
// interval, refreshes every tracked fund inside the trading window and once a
// day as a backstop, and settles profit whenever a refresh updated a fund.
package navsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/metrics"
	"github.com/trogers1052/fund-share-service/internal/models"
	"github.com/trogers1052/fund-share-service/internal/navsource"
	"github.com/trogers1052/fund-share-service/internal/profit"
	"golang.org/x/sync/errgroup"
)

// ErrCycleInProgress is returned when a refresh cycle is already running
var ErrCycleInProgress = errors.New("refresh cycle already in progress")

// Store defines the fund persistence the scheduler needs
type Store interface {
	ListFunds(ctx context.Context) ([]*models.Fund, error)
	GetFundByCode(ctx context.Context, code string) (*models.Fund, error)
	CreateFund(ctx context.Context, f *models.Fund) error
	UpsertNav(ctx context.Context, fundID int, date time.Time, nav decimal.Decimal) (bool, error)
	UpsertNavBatch(ctx context.Context, fundID int, points []models.NavPoint) (int, error)
}

// Fetcher is the NAV source adapter
type Fetcher interface {
	FetchNav(ctx context.Context, code string) (navsource.Quote, error)
	FetchHistory(ctx context.Context, code string, maxDays int) ([]navsource.HistoryPoint, error)
}

// Settler settles profit for every user
type Settler interface {
	SettleAll(ctx context.Context, asOf time.Time) (profit.Summary, error)
}

// Publisher receives fund events. Optional.
type Publisher interface {
	PublishNavUpdated(ctx context.Context, fund *models.Fund) error
	PublishFundRegistered(ctx context.Context, fund *models.Fund) error
}

// Locker guards a cycle across service instances. Optional.
type Locker interface {
	TryLock(ctx context.Context) (release func(), acquired bool, err error)
}

// Config controls scheduling
type Config struct {
	PollInterval time.Duration
	DailyTrigger time.Duration // offset from local midnight
	Window       calendar.Window
	Location     *time.Location
	Workers      int
	HistoryDays  int
}

// FundResult is the outcome of refreshing one fund
type FundResult struct {
	Code    string    `json:"code"`
	Nav     string    `json:"nav,omitempty"`
	AsOf    time.Time `json:"as_of"`
	Source  string    `json:"source,omitempty"`
	Updated bool      `json:"updated"`
	Error   string    `json:"error,omitempty"`
}

// CycleResult summarises one refresh cycle
type CycleResult struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	Duration   time.Duration   `json:"duration"`
	Funds      []FundResult    `json:"funds"`
	Updated    int             `json:"updated"`
	Settlement *profit.Summary `json:"settlement,omitempty"`
}

// Scheduler runs refresh cycles
type Scheduler struct {
	store     Store
	fetcher   Fetcher
	settler   Settler
	publisher Publisher
	locker    Locker
	cal       calendar.Calendar
	cfg       Config
	logger    *logging.Logger
	now       func() time.Time

	running   atomic.Bool
	lastDaily time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. publisher and locker may be nil.
func NewScheduler(store Store, fetcher Fetcher, settler Settler, cal calendar.Calendar, cfg Config, logger *logging.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	return &Scheduler{
		store:   store,
		fetcher: fetcher,
		settler: settler,
		cal:     cal,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetPublisher attaches an event publisher
func (s *Scheduler) SetPublisher(p Publisher) { s.publisher = p }

// SetLocker attaches a cross-instance cycle lock
func (s *Scheduler) SetLocker(l Locker) { s.locker = l }

// Start launches the polling loop in the background. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
}

// Stop ends the polling loop. A cycle already running is allowed to finish
// before Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	s.logger.Info().
		Dur("poll_interval", s.cfg.PollInterval).
		Str("timezone", s.cfg.Location.String()).
		Msg("scheduler started")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick decides whether the current poll runs a cycle. The cycle is detached
// from ctx so that shutdown never interrupts a fund mid-update.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := s.now().In(s.cfg.Location)
	today := calendar.DateOf(now)

	daily := calendar.TimeOfDay(now) >= s.cfg.DailyTrigger && s.lastDaily.Before(today)
	inWindow := calendar.ShouldRefreshNow(s.cal, s.cfg.Window, now)
	if !daily && !inWindow {
		return
	}

	_, err := s.RunCycle(context.WithoutCancel(ctx))
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.logger.Debug().Msg("refresh cycle skipped, another is running")
	case err != nil:
		s.logger.Error().Err(err).Msg("refresh cycle failed")
	case daily:
		s.lastDaily = today
	}
}

// RunCycle refreshes every tracked fund, at most cfg.Workers at a time, and
// settles all users when at least one fund was updated. Each fund is handled by
// a single goroutine. Only one cycle runs at a time.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		metrics.RefreshCyclesTotal.WithLabelValues("skipped").Inc()
		return CycleResult{}, ErrCycleInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Msg("cycle lock unavailable, continuing without it")
		case !acquired:
			metrics.RefreshCyclesTotal.WithLabelValues("skipped").Inc()
			return CycleResult{}, ErrCycleInProgress
		default:
			defer release()
		}
	}

	start := s.now()
	result := CycleResult{ID: uuid.NewString(), StartedAt: start}
	log := s.logger.With().Str("cycle_id", result.ID).Logger()

	funds, err := s.store.ListFunds(ctx)
	if err != nil {
		metrics.RefreshCyclesTotal.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("failed to list funds: %w", err)
	}

	result.Funds = make([]FundResult, len(funds))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, fund := range funds {
		i, fund := i, fund
		g.Go(func() error {
			result.Funds[i] = s.refreshFund(ctx, fund)
			return nil
		})
	}
	_ = g.Wait()

	for _, fr := range result.Funds {
		if fr.Updated {
			result.Updated++
		}
	}
	metrics.FundsUpdatedTotal.Add(float64(result.Updated))

	if result.Updated > 0 {
		summary, err := s.settler.SettleAll(ctx, s.now().In(s.cfg.Location))
		if err != nil {
			log.Warn().Err(err).Msg("settlement finished with failures")
		}
		result.Settlement = &summary
		metrics.RefreshCyclesTotal.WithLabelValues("updated").Inc()
		metrics.LastRefreshTimestamp.SetToCurrentTime()
	} else {
		log.Info().Int("funds", len(funds)).Msg("no fund updated, skipping settlement")
		metrics.RefreshCyclesTotal.WithLabelValues("empty").Inc()
	}

	result.Duration = s.now().Sub(start)
	metrics.RefreshCycleDuration.Observe(result.Duration.Seconds())

	log.Info().
		Int("funds", len(funds)).
		Int("updated", result.Updated).
		Dur("elapsed", result.Duration).
		Msg("refresh cycle complete")
	return result, nil
}

func (s *Scheduler) refreshFund(ctx context.Context, fund *models.Fund) FundResult {
	fr := FundResult{Code: fund.Code}

	q, err := s.fetcher.FetchNav(ctx, fund.Code)
	if err != nil {
		fr.Error = err.Error()
		s.logger.Warn().Err(err).Str("fund", fund.Code).Msg("nav fetch failed")
		return fr
	}

	date := calendar.DateOf(q.AsOf)
	inserted, err := s.store.UpsertNav(ctx, fund.ID, date, q.Nav)
	if err != nil {
		fr.Error = err.Error()
		s.logger.Error().Err(err).Str("fund", fund.Code).Msg("failed to store nav")
		return fr
	}

	fr.Nav, fr.AsOf, fr.Source, fr.Updated = q.Nav.String(), date, q.Source, true
	s.logger.Debug().
		Str("fund", fund.Code).
		Str("nav", fr.Nav).
		Str("source", q.Source).
		Bool("new_history", inserted).
		Msg("nav updated")

	if s.publisher != nil {
		updated := *fund
		updated.LatestNav, updated.NavAsOf = &q.Nav, &date
		if err := s.publisher.PublishNavUpdated(ctx, &updated); err != nil {
			s.logger.Warn().Err(err).Str("fund", fund.Code).Msg("failed to publish nav event")
		}
	}
	return fr
}

// RegisterFund creates a fund, fetches its current NAV and backfills its
// history. Fetch and backfill failures are logged; the fund stays registered
// and the next cycle retries.
func (s *Scheduler) RegisterFund(ctx context.Context, code, name, category string) (*models.Fund, error) {
	fund := &models.Fund{Code: code, Name: name, Category: category}
	if fund.Name == "" {
		fund.Name = code
	}
	if err := s.store.CreateFund(ctx, fund); err != nil {
		return nil, err
	}

	if fr := s.refreshFund(ctx, fund); !fr.Updated {
		s.logger.Warn().Str("fund", code).Str("error", fr.Error).Msg("initial nav refresh failed")
	}
	if _, err := s.Backfill(ctx, code, s.cfg.HistoryDays); err != nil {
		s.logger.Warn().Err(err).Str("fund", code).Msg("history backfill failed")
	}

	stored, err := s.store.GetFundByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishFundRegistered(ctx, stored); err != nil {
			s.logger.Warn().Err(err).Str("fund", code).Msg("failed to publish fund event")
		}
	}
	return stored, nil
}

// Backfill stores up to days of NAV history for a fund. Dates already stored
// are left untouched. It returns the number of new history rows.
func (s *Scheduler) Backfill(ctx context.Context, code string, days int) (int, error) {
	fund, err := s.store.GetFundByCode(ctx, code)
	if err != nil {
		return 0, err
	}

	history, err := s.fetcher.FetchHistory(ctx, code, days)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch history for %s: %w", code, err)
	}

	points := make([]models.NavPoint, 0, len(history))
	for _, h := range history {
		points = append(points, models.NavPoint{Date: calendar.DateOf(h.Date), Nav: h.Nav})
	}

	inserted, err := s.store.UpsertNavBatch(ctx, fund.ID, points)
	if err != nil {
		return 0, err
	}

	s.logger.Info().Str("fund", code).Int("fetched", len(points)).Int("inserted", inserted).Msg("history backfilled")
	return inserted, nil
}
