package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

var _ domain.PositionStore = (*PositionStore)(nil)

// PositionStore implements domain.PositionStore using PostgreSQL. It holds
// the confirmed snapshot the engine reconciles against.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `key, account, market, collateral_token, is_long,
	size_in_usd::text, size_in_tokens::text, collateral_amount::text,
	pending_borrowing_fees_usd::text, funding_fee_amount::text,
	claimable_long_token_amount::text, claimable_short_token_amount::text,
	increased_at_time, decreased_at_time`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                           domain.Position
		account, market, collateral string
		size, tokens, coll          string
		borrow, funding             string
		claimLong, claimShort       string
		increasedAt, decreasedAt    int64
	)
	if err := row.Scan(
		&p.Key, &account, &market, &collateral, &p.IsLong,
		&size, &tokens, &coll, &borrow, &funding, &claimLong, &claimShort,
		&increasedAt, &decreasedAt,
	); err != nil {
		return domain.Position{}, err
	}

	p.Account = common.HexToAddress(account)
	p.MarketAddress = common.HexToAddress(market)
	p.CollateralTokenAddress = common.HexToAddress(collateral)
	p.IncreasedAtTime = uint64(increasedAt)
	p.DecreasedAtTime = uint64(decreasedAt)

	for _, f := range []struct {
		dst    **big.Int
		column string
		text   string
	}{
		{&p.SizeInUsd, "size_in_usd", size},
		{&p.SizeInTokens, "size_in_tokens", tokens},
		{&p.CollateralAmount, "collateral_amount", coll},
		{&p.PendingBorrowingFeesUsd, "pending_borrowing_fees_usd", borrow},
		{&p.FundingFeeAmount, "funding_fee_amount", funding},
		{&p.ClaimableLongTokenAmount, "claimable_long_token_amount", claimLong},
		{&p.ClaimableShortTokenAmount, "claimable_short_token_amount", claimShort},
	} {
		v, err := parseNumeric(f.column, f.text)
		if err != nil {
			return domain.Position{}, err
		}
		*f.dst = v
	}
	return p, nil
}

// Upsert inserts or replaces the confirmed state of a position.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	increasedAt, err := markerParam(p.IncreasedAtTime)
	if err != nil {
		return err
	}
	decreasedAt, err := markerParam(p.DecreasedAtTime)
	if err != nil {
		return err
	}

	key := p.Key
	if key == "" {
		key = p.PositionKey().Hash()
	}

	const query = `
		INSERT INTO positions (
			key, account, market, collateral_token, is_long,
			size_in_usd, size_in_tokens, collateral_amount,
			pending_borrowing_fees_usd, funding_fee_amount,
			claimable_long_token_amount, claimable_short_token_amount,
			increased_at_time, decreased_at_time, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::text::numeric, $7::text::numeric, $8::text::numeric,
			$9::text::numeric, $10::text::numeric,
			$11::text::numeric, $12::text::numeric,
			$13, $14, NOW()
		)
		ON CONFLICT (key) DO UPDATE SET
			size_in_usd                  = EXCLUDED.size_in_usd,
			size_in_tokens               = EXCLUDED.size_in_tokens,
			collateral_amount            = EXCLUDED.collateral_amount,
			pending_borrowing_fees_usd   = EXCLUDED.pending_borrowing_fees_usd,
			funding_fee_amount           = EXCLUDED.funding_fee_amount,
			claimable_long_token_amount  = EXCLUDED.claimable_long_token_amount,
			claimable_short_token_amount = EXCLUDED.claimable_short_token_amount,
			increased_at_time            = EXCLUDED.increased_at_time,
			decreased_at_time            = EXCLUDED.decreased_at_time,
			updated_at                   = NOW()`

	_, err = s.pool.Exec(ctx, query,
		key, p.Account.Hex(), p.MarketAddress.Hex(), p.CollateralTokenAddress.Hex(), p.IsLong,
		numericText(p.SizeInUsd), numericText(p.SizeInTokens), numericText(p.CollateralAmount),
		numericText(p.PendingBorrowingFeesUsd), numericText(p.FundingFeeAmount),
		numericText(p.ClaimableLongTokenAmount), numericText(p.ClaimableShortTokenAmount),
		increasedAt, decreasedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", key, err)
	}
	return nil
}

// Delete removes a closed position from the snapshot.
func (s *PositionStore) Delete(ctx context.Context, key string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByKeys returns the confirmed positions of account among keys, by key.
// Keys without a row are simply absent from the result.
func (s *PositionStore) GetByKeys(ctx context.Context, account common.Address, keys []string) (map[string]domain.Position, error) {
	out := make(map[string]domain.Position, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account = $1 AND key = ANY($2)`, account.Hex(), keys)
	if err != nil {
		return nil, fmt.Errorf("postgres: get positions by keys: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out[p.Key] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get positions by keys rows: %w", err)
	}
	return out, nil
}

// ListByAccount returns every confirmed position of account.
func (s *PositionStore) ListByAccount(ctx context.Context, account common.Address) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE account = $1
		 ORDER BY updated_at DESC`, account.Hex())
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
