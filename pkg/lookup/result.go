package lookup

// Result is the outcome of a single CNPJ lookup.
// A Result is either Present, carrying the decoded JSON object returned by the
// registry, or Absent, carrying the reason the lookup did not produce data.
// It is never partially populated.
type Result struct {
	present bool
	data    map[string]any
	reason  error
}

// Present returns a Result holding the given field mapping.
// A nil mapping is treated as an empty object.
func Present(data map[string]any) Result {
	if data == nil {
		data = map[string]any{}
	}
	return Result{present: true, data: data}
}

// Absent returns a Result signalling that no data is available.
// reason may be nil when the caller has nothing more specific to report.
func Absent(reason error) Result {
	return Result{reason: reason}
}

// IsPresent reports whether the lookup produced data.
func (r Result) IsPresent() bool {
	return r.present
}

// Data returns the field mapping for a Present result, nil otherwise.
func (r Result) Data() map[string]any {
	if !r.present {
		return nil
	}
	return r.data
}

// Field returns the raw value for name. ok is false for Absent results and
// for keys missing from the mapping.
func (r Result) Field(name string) (value any, ok bool) {
	if !r.present {
		return nil, false
	}
	value, ok = r.data[name]
	return value, ok
}

// Reason returns why the result is Absent. It is always nil for Present results.
func (r Result) Reason() error {
	if r.present {
		return nil
	}
	return r.reason
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r.present {
		return "present"
	}
	return "absent"
}
