package domain

// Field identifies a numeric ticket field that is baselined and scored.
type Field string

const (
	FieldQuantity Field = "quantity"
	FieldPayRate  Field = "pay_rate"
	FieldBillRate Field = "bill_rate"
)

// ScoredFields lists the fields scored on every ticket, in report order.
var ScoredFields = []Field{FieldQuantity, FieldPayRate, FieldBillRate}

// Value extracts the field's value from a ticket.
func (f Field) Value(t Ticket) float64 {
	switch f {
	case FieldQuantity:
		return t.Quantity
	case FieldPayRate:
		return t.PayRate
	case FieldBillRate:
		return t.BillRate
	}
	return 0
}

// BaselineScope distinguishes driver/material keys from route keys.
type BaselineScope string

const (
	ScopeDriverMaterial BaselineScope = "driver_material"
	ScopeRoute          BaselineScope = "route"
)

// BaselineKey identifies one rolling window of history.
type BaselineKey struct {
	Scope    BaselineScope
	DriverID string
	Material string
	Route    string
}

// String renders the key for logs and lock names.
func (k BaselineKey) String() string {
	if k.Scope == ScopeRoute {
		return "route:" + k.Route
	}
	return "driver:" + k.DriverID + "/material:" + k.Material
}

// Baseline is the historical expectation for one field under one key.
type Baseline struct {
	Key     BaselineKey
	Field   Field
	Samples int
	Mean    float64
	StdDev  float64
	Median  float64
}

// Center is the central tendency deviations are measured against.
func (b Baseline) Center() float64 {
	return b.Mean
}
