package profit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/models"
)

type recordKey struct {
	userID int
	date   string
}

// memStore mirrors the repository's profit semantics in memory
type memStore struct {
	users      []*models.User
	agreements map[int]*models.Agreement
	records    map[recordKey]*models.ProfitRecord
	failUser   int
	shareSaves int
}

func newMemStore() *memStore {
	return &memStore{
		agreements: make(map[int]*models.Agreement),
		records:    make(map[recordKey]*models.ProfitRecord),
	}
}

func (m *memStore) addUser(id int, role string, principal string) *models.User {
	u := &models.User{ID: id, Username: fmt.Sprintf("user%d", id), Role: role, Principal: decimal.RequireFromString(principal)}
	m.users = append(m.users, u)
	return u
}

func (m *memStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	return m.users, nil
}

func (m *memStore) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	if id == m.failUser {
		return nil, errors.New("connection refused")
	}
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memStore) SumSubAccountPrincipal(ctx context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, u := range m.users {
		if !u.IsPrimary() {
			total = total.Add(u.Principal)
		}
	}
	return total, nil
}

func (m *memStore) GetAgreementByUserID(ctx context.Context, userID int) (*models.Agreement, error) {
	a, ok := m.agreements[userID]
	if !ok {
		return nil, fmt.Errorf("agreement for user %d: %w", userID, database.ErrNotFound)
	}
	return a, nil
}

func (m *memStore) cumulative(userID int) decimal.Decimal {
	total := decimal.Zero
	for k, r := range m.records {
		if k.userID == userID {
			total = total.Add(r.DailyProfit)
		}
	}
	return total
}

func (m *memStore) UpsertDailyProfit(ctx context.Context, userID int, date time.Time, daily decimal.Decimal) (*models.ProfitRecord, error) {
	key := recordKey{userID, date.Format("2006-01-02")}
	r, ok := m.records[key]
	if !ok {
		r = &models.ProfitRecord{ID: len(m.records) + 1, UserID: userID, Date: date}
		m.records[key] = r
	}
	r.DailyProfit = daily
	r.CumulativeProfit = m.cumulative(userID)
	out := *r
	return &out, nil
}

func (m *memStore) GetProfitRecord(ctx context.Context, userID int, date time.Time) (*models.ProfitRecord, error) {
	r, ok := m.records[recordKey{userID, date.Format("2006-01-02")}]
	if !ok {
		return nil, fmt.Errorf("profit record: %w", database.ErrNotFound)
	}
	out := *r
	return &out, nil
}

func (m *memStore) SaveShareAmount(ctx context.Context, userID int, date time.Time, share decimal.Decimal) (*models.ProfitRecord, error) {
	m.shareSaves++
	key := recordKey{userID, date.Format("2006-01-02")}
	r, ok := m.records[key]
	if !ok {
		r = &models.ProfitRecord{UserID: userID, Date: date, CumulativeProfit: m.cumulative(userID)}
		m.records[key] = r
	}
	r.ShareAmount = share
	out := *r
	return &out, nil
}

func (m *memStore) record(userID int, date time.Time) *models.ProfitRecord {
	return m.records[recordKey{userID, date.Format("2006-01-02")}]
}

type fixedValuer map[int]decimal.Decimal

func (v fixedValuer) ComputePortfolioValue(ctx context.Context, userID int) (decimal.Decimal, error) {
	return v[userID], nil
}

type recordingPublisher struct {
	records []*models.ProfitRecord
}

func (p *recordingPublisher) PublishProfitSettled(ctx context.Context, r *models.ProfitRecord) error {
	p.records = append(p.records, r)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var settleDate = time.Date(2024, 3, 1, 18, 0, 0, 0, time.FixedZone("CST", 8*3600))

func TestSettleDaily_SubAccount(t *testing.T) {
	store := newMemStore()
	store.addUser(2, models.RoleSub, "10000")
	engine := NewEngine(store, fixedValuer{2: dec("10500")}, nil, logging.NewSilent())

	record, err := engine.SettleDaily(context.Background(), 2, settleDate)
	require.NoError(t, err)

	assert.True(t, dec("500").Equal(record.DailyProfit))
	assert.True(t, dec("500").Equal(record.CumulativeProfit))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), record.Date)
}

func TestSettleDaily_PrimaryUsesSubAccountPrincipal(t *testing.T) {
	store := newMemStore()
	store.addUser(1, models.RolePrimary, "99999")
	store.addUser(2, models.RoleSub, "10000")
	store.addUser(3, models.RoleSub, "5000")
	engine := NewEngine(store, fixedValuer{1: dec("16000")}, nil, logging.NewSilent())

	record, err := engine.SettleDaily(context.Background(), 1, settleDate)
	require.NoError(t, err)
	assert.True(t, dec("1000").Equal(record.DailyProfit), "got %s", record.DailyProfit)
}

func TestSettleDaily_Idempotent(t *testing.T) {
	store := newMemStore()
	store.addUser(2, models.RoleSub, "10000")
	engine := NewEngine(store, fixedValuer{2: dec("10500")}, nil, logging.NewSilent())
	ctx := context.Background()

	_, err := engine.SettleDaily(ctx, 2, settleDate)
	require.NoError(t, err)
	record, err := engine.SettleDaily(ctx, 2, settleDate)
	require.NoError(t, err)

	assert.Len(t, store.records, 1)
	assert.True(t, dec("500").Equal(record.CumulativeProfit))
}

func TestSettleDaily_CumulativeAcrossDays(t *testing.T) {
	store := newMemStore()
	store.addUser(2, models.RoleSub, "10000")
	valuer := fixedValuer{2: dec("10500")}
	engine := NewEngine(store, valuer, nil, logging.NewSilent())
	ctx := context.Background()

	_, err := engine.SettleDaily(ctx, 2, settleDate)
	require.NoError(t, err)
	valuer[2] = dec("9800")
	record, err := engine.SettleDaily(ctx, 2, settleDate.AddDate(0, 0, 3))
	require.NoError(t, err)

	assert.True(t, dec("-200").Equal(record.DailyProfit))
	assert.True(t, dec("300").Equal(record.CumulativeProfit))
}

func TestSettleDaily_UnknownUser(t *testing.T) {
	engine := NewEngine(newMemStore(), fixedValuer{}, nil, logging.NewSilent())

	_, err := engine.SettleDaily(context.Background(), 9, settleDate)
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestSettleShare(t *testing.T) {
	tests := []struct {
		name      string
		principal string
		value     string
		agreement *models.Agreement
		want      string
		writes    bool
	}{
		{"profit is shared by ratio", "10000", "10500",
			&models.Agreement{ProfitShareRatio: dec("0.2")}, "100", true},
		{"protected loss below guarantee is compensated", "10000", "9000",
			&models.Agreement{ProfitShareRatio: dec("0.2"), IsCapitalProtected: true, CapitalProtectionRatio: dec("1")}, "-1000", true},
		{"partial protection ratio", "10000", "9000",
			&models.Agreement{ProfitShareRatio: dec("0.2"), IsCapitalProtected: true, CapitalProtectionRatio: dec("0.95")}, "-500", true},
		{"protected loss above guarantee stays zero", "10000", "9800",
			&models.Agreement{ProfitShareRatio: dec("0.2"), IsCapitalProtected: true, CapitalProtectionRatio: dec("0.9")}, "0", true},
		{"unprotected loss stays zero", "10000", "9000",
			&models.Agreement{ProfitShareRatio: dec("0.2")}, "0", true},
		{"no agreement writes nothing", "10000", "10500", nil, "0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.addUser(2, models.RoleSub, tt.principal)
			if tt.agreement != nil {
				tt.agreement.UserID = 2
				store.agreements[2] = tt.agreement
			}
			engine := NewEngine(store, fixedValuer{2: dec(tt.value)}, nil, logging.NewSilent())
			ctx := context.Background()

			_, err := engine.SettleDaily(ctx, 2, settleDate)
			require.NoError(t, err)
			share, err := engine.SettleShare(ctx, 2, settleDate)
			require.NoError(t, err)

			assert.True(t, dec(tt.want).Equal(share), "got %s", share)
			if tt.writes {
				assert.Equal(t, 1, store.shareSaves)
				assert.True(t, dec(tt.want).Equal(store.record(2, settleDate).ShareAmount))
			} else {
				assert.Zero(t, store.shareSaves)
			}
		})
	}
}

func TestSettleShare_ResetsStaleShareOnRerun(t *testing.T) {
	store := newMemStore()
	store.addUser(2, models.RoleSub, "10000")
	store.agreements[2] = &models.Agreement{UserID: 2, ProfitShareRatio: dec("0.2")}
	valuer := fixedValuer{2: dec("10500")}
	engine := NewEngine(store, valuer, nil, logging.NewSilent())
	ctx := context.Background()

	_, err := engine.SettleDaily(ctx, 2, settleDate)
	require.NoError(t, err)
	_, err = engine.SettleShare(ctx, 2, settleDate)
	require.NoError(t, err)

	valuer[2] = dec("9900")
	_, err = engine.SettleDaily(ctx, 2, settleDate)
	require.NoError(t, err)
	share, err := engine.SettleShare(ctx, 2, settleDate)
	require.NoError(t, err)

	assert.True(t, share.IsZero())
	assert.True(t, store.record(2, settleDate).ShareAmount.IsZero())
}

func TestSettleShare_WithoutRecord(t *testing.T) {
	store := newMemStore()
	store.addUser(2, models.RoleSub, "10000")
	store.agreements[2] = &models.Agreement{UserID: 2, IsCapitalProtected: true, CapitalProtectionRatio: dec("1")}
	engine := NewEngine(store, fixedValuer{2: dec("9500")}, nil, logging.NewSilent())

	share, err := engine.SettleShare(context.Background(), 2, settleDate)
	require.NoError(t, err)

	assert.True(t, dec("-500").Equal(share))
	record := store.record(2, settleDate)
	require.NotNil(t, record)
	assert.True(t, record.DailyProfit.IsZero())
}

func TestSettleShare_PrimaryWritesNothing(t *testing.T) {
	store := newMemStore()
	store.addUser(1, models.RolePrimary, "0")
	store.agreements[1] = &models.Agreement{UserID: 1, ProfitShareRatio: dec("0.5")}
	engine := NewEngine(store, fixedValuer{1: dec("100")}, nil, logging.NewSilent())

	share, err := engine.SettleShare(context.Background(), 1, settleDate)
	require.NoError(t, err)
	assert.True(t, share.IsZero())
	assert.Zero(t, store.shareSaves)
}

func TestSettleAll(t *testing.T) {
	store := newMemStore()
	store.addUser(1, models.RolePrimary, "0")
	store.addUser(2, models.RoleSub, "10000")
	store.addUser(3, models.RoleSub, "5000")
	store.addUser(4, models.RoleSub, "1000")
	store.agreements[2] = &models.Agreement{UserID: 2, ProfitShareRatio: dec("0.2")}
	store.failUser = 3

	publisher := &recordingPublisher{}
	valuer := fixedValuer{1: dec("16500"), 2: dec("10500"), 4: dec("1000")}
	engine := NewEngine(store, valuer, publisher, logging.NewSilent())

	summary, err := engine.SettleAll(context.Background(), settleDate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user 3")

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 3, summary.Processed)
	assert.Len(t, summary.Failed, 1)
	assert.Contains(t, summary.Failed, 3)
	assert.Nil(t, store.record(3, settleDate))

	assert.True(t, dec("500").Equal(store.record(1, settleDate).DailyProfit))
	assert.True(t, dec("100").Equal(store.record(2, settleDate).ShareAmount))
	assert.True(t, store.record(4, settleDate).DailyProfit.IsZero())

	require.Len(t, publisher.records, 3)
	assert.True(t, dec("100").Equal(publisher.records[1].ShareAmount))
}

func TestSettleAll_NoUsers(t *testing.T) {
	engine := NewEngine(newMemStore(), fixedValuer{}, nil, logging.NewSilent())

	summary, err := engine.SettleAll(context.Background(), settleDate)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.Failed)
}

func TestSettleAll_CancelledBeforeAnyUser(t *testing.T) {
	store := newMemStore()
	store.addUser(1, models.RolePrimary, "0")
	store.addUser(2, models.RoleSub, "1000")
	engine := NewEngine(store, fixedValuer{1: dec("0"), 2: dec("1000")}, nil, logging.NewSilent())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := engine.SettleAll(ctx, settleDate)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Total)
	assert.Zero(t, summary.Processed)
	assert.Empty(t, summary.Failed)
}
