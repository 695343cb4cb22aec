package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SavePosition(ctx context.Context, p *model.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (
			deal_id, epic, underlying_epic, strike, option_type, direction,
			contract_size, size, level, premium, currency, market_name,
			expiry, created_at, time_to_expiry,
			hedge_size, hedge_deal_id, hedge_direction,
			last_hedge_price, last_hedge_time, pnl_threshold_crossed,
			is_active, last_update)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6,
		         $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12,
		         $13, $14, $15,
		         $16::NUMERIC, $17, $18,
		         $19::NUMERIC, $20, $21,
		         $22, $23)
		 ON CONFLICT (deal_id) DO UPDATE SET
			strike = EXCLUDED.strike,
			size = EXCLUDED.size,
			level = EXCLUDED.level,
			premium = EXCLUDED.premium,
			time_to_expiry = EXCLUDED.time_to_expiry,
			hedge_size = EXCLUDED.hedge_size,
			hedge_deal_id = EXCLUDED.hedge_deal_id,
			hedge_direction = EXCLUDED.hedge_direction,
			last_hedge_price = EXCLUDED.last_hedge_price,
			last_hedge_time = EXCLUDED.last_hedge_time,
			pnl_threshold_crossed = EXCLUDED.pnl_threshold_crossed,
			is_active = EXCLUDED.is_active,
			last_update = EXCLUDED.last_update`,
		p.DealID, p.Epic, p.UnderlyingEpic, p.Strike.String(), p.OptionType, p.Direction,
		p.ContractSize.String(), p.Size.String(), p.Level.String(), p.Premium.String(),
		p.Currency, p.MarketName,
		p.Expiry, p.CreatedAt, p.TimeToExpiry,
		p.HedgeSize.String(), p.HedgeDealID, p.HedgeDirection,
		p.LastHedgePrice.String(), p.LastHedgeTime, p.PnLThresholdCrossed,
		p.IsActive, p.LastUpdate,
	)
	return err
}

const positionColumns = `deal_id, epic, underlying_epic,
	strike::TEXT, option_type, direction,
	contract_size::TEXT, size::TEXT, level::TEXT, premium::TEXT,
	currency, market_name, expiry, created_at, time_to_expiry,
	hedge_size::TEXT, hedge_deal_id, hedge_direction,
	last_hedge_price::TEXT, last_hedge_time, pnl_threshold_crossed,
	is_active, last_update`

func (s *PostgresStore) GetPosition(ctx context.Context, dealID string) (*model.Snapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE deal_id = $1`, dealID)

	snap, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get position %s: %w", dealID, err)
	}
	return snap, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func (s *PostgresStore) InsertHedgeRecord(ctx context.Context, dealID string, r *model.HedgeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO hedge_records (id, deal_id, timestamp, delta, hedge_size, price, pnl)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)`,
		r.ID, dealID, r.Timestamp, r.Delta,
		r.HedgeSize.String(), r.Price.String(), r.PnL.String(),
	)
	return err
}

func (s *PostgresStore) HedgeHistory(ctx context.Context, dealID string) ([]model.HedgeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, delta, hedge_size::TEXT, price::TEXT, pnl::TEXT
		 FROM hedge_records WHERE deal_id = $1 ORDER BY timestamp`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.HedgeRecord
	for rows.Next() {
		var r model.HedgeRecord
		var sizeS, priceS, pnlS string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Delta, &sizeS, &priceS, &pnlS); err != nil {
			return nil, err
		}
		r.HedgeSize, _ = decimal.NewFromString(sizeS)
		r.Price, _ = decimal.NewFromString(priceS)
		r.PnL, _ = decimal.NewFromString(pnlS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// scanPosition reads one positions row into a Snapshot.
func scanPosition(row pgx.Row) (*model.Snapshot, error) {
	var p model.Snapshot
	var strikeS, contractS, sizeS, levelS, premiumS, hedgeSizeS, hedgePriceS string

	err := row.Scan(&p.DealID, &p.Epic, &p.UnderlyingEpic,
		&strikeS, &p.OptionType, &p.Direction,
		&contractS, &sizeS, &levelS, &premiumS,
		&p.Currency, &p.MarketName, &p.Expiry, &p.CreatedAt, &p.TimeToExpiry,
		&hedgeSizeS, &p.HedgeDealID, &p.HedgeDirection,
		&hedgePriceS, &p.LastHedgeTime, &p.PnLThresholdCrossed,
		&p.IsActive, &p.LastUpdate)
	if err != nil {
		return nil, err
	}

	p.Strike, _ = decimal.NewFromString(strikeS)
	p.ContractSize, _ = decimal.NewFromString(contractS)
	p.Size, _ = decimal.NewFromString(sizeS)
	p.Level, _ = decimal.NewFromString(levelS)
	p.Premium, _ = decimal.NewFromString(premiumS)
	p.HedgeSize, _ = decimal.NewFromString(hedgeSizeS)
	p.LastHedgePrice, _ = decimal.NewFromString(hedgePriceS)

	return &p, nil
}

// Schema returns the DDL for the audit tables. Applied by deployments
// that let the service own its schema.
func Schema() string {
	return `
CREATE TABLE IF NOT EXISTS positions (
	deal_id TEXT PRIMARY KEY,
	epic TEXT NOT NULL,
	underlying_epic TEXT NOT NULL DEFAULT '',
	strike NUMERIC NOT NULL,
	option_type TEXT NOT NULL,
	direction TEXT NOT NULL,
	contract_size NUMERIC NOT NULL,
	size NUMERIC NOT NULL,
	level NUMERIC NOT NULL,
	premium NUMERIC NOT NULL,
	currency TEXT NOT NULL DEFAULT '',
	market_name TEXT NOT NULL DEFAULT '',
	expiry TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	time_to_expiry DOUBLE PRECISION NOT NULL,
	hedge_size NUMERIC NOT NULL,
	hedge_deal_id TEXT NOT NULL DEFAULT '',
	hedge_direction TEXT NOT NULL DEFAULT '',
	last_hedge_price NUMERIC NOT NULL,
	last_hedge_time TIMESTAMPTZ NOT NULL,
	pnl_threshold_crossed BOOLEAN NOT NULL,
	is_active BOOLEAN NOT NULL,
	last_update TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS hedge_records (
	id TEXT PRIMARY KEY,
	deal_id TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	delta DOUBLE PRECISION NOT NULL,
	hedge_size NUMERIC NOT NULL,
	price NUMERIC NOT NULL,
	pnl NUMERIC NOT NULL
);

CREATE INDEX IF NOT EXISTS hedge_records_deal_ts
	ON hedge_records (deal_id, timestamp);
`
}
