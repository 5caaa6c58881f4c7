package postgres

import (
	"fmt"
	"math"
	"math/big"

	"github.com/alanyoungcy/perprisk/internal/domain"
)

// numericText renders v for a `$n::text::numeric` parameter. Nil is zero.
func numericText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric parses a NUMERIC column selected as text.
func parseNumeric(column, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: %s: invalid numeric %q", column, s)
	}
	return v, nil
}

// markerParam converts an ordering marker to BIGINT.
func markerParam(m uint64) (int64, error) {
	if m > math.MaxInt64 {
		return 0, fmt.Errorf("%w: marker %d exceeds bigint", domain.ErrInvalidEvent, m)
	}
	return int64(m), nil
}

// appendListOpts adds time bounds, ordering and paging on column to query.
func appendListOpts(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", column)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
