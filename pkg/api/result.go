package api

import (
	"errors"
	"fmt"
	"strings"
)

// Result is the terminal outcome of a job or a flow run. Results are totally
// ordered by severity, with Success being the best outcome
type Result uint8

const (
	Success Result = iota
	Unstable
	Failure
	NotBuilt
	Aborted
)

var ErrInvalidResult = errors.New("invalid result")

var resultNames = [...]string{
	Success:  "SUCCESS",
	Unstable: "UNSTABLE",
	Failure:  "FAILURE",
	NotBuilt: "NOT_BUILT",
	Aborted:  "ABORTED",
}

// Results lists every Result from best to worst
var Results = []Result{Success, Unstable, Failure, NotBuilt, Aborted}

// Combine returns the more severe of the two results. The operation is
// commutative, associative and idempotent, with Success as its identity
func (r Result) Combine(other Result) Result {
	if other > r {
		return other
	}
	return r
}

// Combine folds all results into the most severe one. An empty fold yields
// Success
func Combine(results ...Result) Result {
	res := Success
	for _, r := range results {
		res = res.Combine(r)
	}
	return res
}

// IsWorseThan reports whether r is strictly more severe than other
func (r Result) IsWorseThan(other Result) bool {
	return r > other
}

// IsBetterOrEqualTo reports whether r is no more severe than other
func (r Result) IsBetterOrEqualTo(other Result) bool {
	return r <= other
}

// IsValid reports whether r is one of the five known results
func (r Result) IsValid() bool {
	return int(r) < len(resultNames)
}

func (r Result) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("Result(%d)", r)
	}
	return resultNames[r]
}

// ParseResult converts a case-insensitive result name into a Result
func ParseResult(s string) (Result, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	name = strings.ReplaceAll(name, "-", "_")
	for i, n := range resultNames {
		if n == name {
			return Result(i), nil
		}
	}
	return Success, fmt.Errorf("%w: %q", ErrInvalidResult, s)
}

// MarshalText encodes the result by name
func (r Result) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidResult, r)
	}
	return []byte(resultNames[r]), nil
}

// UnmarshalText decodes a result name
func (r *Result) UnmarshalText(text []byte) error {
	res, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = res
	return nil
}
