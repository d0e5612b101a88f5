package alerts

// Decision is a formatted notification ready to send, plus the statistics
// counter it increments once delivered.
type Decision struct {
	ID      string
	Kind    Kind
	Title   string
	Text    string
	Color   string
	StatKey string
}

// Mutation writes Value to Key. A nil Value clears the key.
//
// A guarded mutation is applied with compare-and-set against Expect; if the
// stored value changed since evaluation the whole plan is dropped.
type Mutation struct {
	Key    string
	Value  any
	Guard  bool
	Expect any
}

// Plan is the outcome of evaluating one alert class (or one threshold rule).
type Plan struct {
	Kind      Kind
	Tag       string // threshold plans only
	Decision  *Decision
	Mutations []Mutation

	// Suppressed names why no decision was produced, if one was considered.
	Suppressed string

	// Err is set when the decision could not be formatted. Such plans carry
	// neither a decision nor mutations.
	Err error
}
