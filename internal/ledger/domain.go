package ledger

import (
	"bytes"
	"strconv"
	"time"
)

// RowType classifies a ledger row.
type RowType string

const (
	TypeOpening RowType = "OPENING"
	TypeIncome  RowType = "INCOME"
	TypeExpense RowType = "EXPENSE"
)

// Row is one line of a reconstructed item ledger. Rows are derived from the
// underlying documents on every request and never persisted.
type Row struct {
	Date     time.Time `json:"date"`
	RefNo    string    `json:"ref_no"`
	Type     RowType   `json:"type"`
	Qty      float64   `json:"qty"`
	Rate     float64   `json:"rate"`
	Total    float64   `json:"total"`
	BalQty   float64   `json:"bal_qty"`
	BalRate  float64   `json:"bal_rate"`
	BalTotal float64   `json:"bal_total"`
	Remarks  string    `json:"remarks,omitempty"`
}

// Entry is a candidate transaction collected from one document line before
// the balance fold runs.
type Entry struct {
	Date    time.Time
	RefNo   string
	Type    RowType
	Qty     float64
	Rate    float64
	Remarks string
}

// Quantity coerces a raw json value to a float. Documents written by hand
// sometimes carry numbers as strings or garbage; the ledger renders them as
// zero instead of failing the whole report.
type Quantity float64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		*q = 0
		return nil
	}
	*q = Quantity(v)
	return nil
}

// Float returns the coerced value.
func (q Quantity) Float() float64 { return float64(q) }
