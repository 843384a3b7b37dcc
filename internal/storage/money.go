package storage

import (
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitExp is the scale of an amount column: two decimal places.
const minorUnitExp = 2

// moneyCodec binds amounts to the dialect's money column. MySQL has an exact
// DECIMAL(15,2); SQLite has no exact decimal type, so amounts are stored as
// integer minor units and SUM stays integral.
type moneyCodec struct{ minor bool }

func newMoneyCodec(driver string) moneyCodec {
	return moneyCodec{minor: driver == DriverSQLite}
}

// value converts d for a query argument.
func (c moneyCodec) value(d decimal.Decimal) any {
	if c.minor {
		return d.Shift(minorUnitExp).Round(0).IntPart()
	}
	return d
}

// scan returns a destination that decodes the column into d.
func (c moneyCodec) scan(d *decimal.Decimal) sql.Scanner {
	return &moneyScanner{dst: d, minor: c.minor}
}

type moneyScanner struct {
	dst   *decimal.Decimal
	minor bool
}

func (s *moneyScanner) Scan(src any) error {
	if !s.minor {
		return s.dst.Scan(src)
	}
	switch v := src.(type) {
	case int64:
		*s.dst = decimal.New(v, -minorUnitExp)
		return nil
	case nil:
		*s.dst = decimal.Zero
		return nil
	default:
		var d decimal.Decimal
		if err := d.Scan(v); err != nil {
			return fmt.Errorf("scan minor units: %w", err)
		}
		*s.dst = d.Shift(-minorUnitExp)
		return nil
	}
}
