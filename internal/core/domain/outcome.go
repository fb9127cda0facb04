package domain

// Outcome is the terminal result of running one record through browser-level retry.
type Outcome struct {
	Amount   float64
	Reason   FailureReason // empty on success
	Attempts int
	Err      error // last attempt error, nil on success
}

// Succeeded reports whether the outcome carries an amount.
func (o Outcome) Succeeded() bool {
	return o.Reason == ""
}

// FailureMessage is the text stored with a failed record.
func (o Outcome) FailureMessage() string {
	if o.Err == nil {
		return string(o.Reason)
	}
	return o.Err.Error()
}

// QueueCounts holds the size of each logical queue.
type QueueCounts struct {
	Pending  int `db:"pending"  json:"pending"`
	Valuated int `db:"valuated" json:"valuated"`
	Failed   int `db:"failed"   json:"failed"`
}
