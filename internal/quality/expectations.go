// Package quality evaluates declarative data-quality expectations over the
// most recent fact rows and gates downstream refresh on the result.
//
// Expectations run against a bounded recent window rather than full tables so
// gate latency stays flat as history grows. Range checks tolerate a small
// outlier fraction; structural checks (uniqueness, required fields) do not.
package quality

import (
	"fmt"
)

// DefaultWindowSize bounds how many recent fact rows each suite inspects.
const DefaultWindowSize = 1000

// DefaultMostly is the fraction of in-range values a tolerant range check
// requires.
const DefaultMostly = 0.95

type (
	// ExpectationResult is the outcome of one expectation.
	ExpectationResult struct {
		Name     string
		Passed   bool
		Observed string
	}

	// SuiteResult is the outcome of one expectation suite.
	SuiteResult struct {
		Suite        string
		Passed       bool
		RowCount     int
		Expectations []ExpectationResult
	}
)

// Failures lists the names of failed expectations.
func (r SuiteResult) Failures() []string {
	var failed []string

	for _, exp := range r.Expectations {
		if !exp.Passed {
			failed = append(failed, exp.Name)
		}
	}

	return failed
}

// expectRowCountAtLeast fails when the window holds fewer rows than min.
func expectRowCountAtLeast(count, min int) ExpectationResult {
	return ExpectationResult{
		Name:     fmt.Sprintf("row_count_at_least_%d", min),
		Passed:   count >= min,
		Observed: fmt.Sprintf("%d rows", count),
	}
}

// expectValuesBetween checks that at least mostly of the non-null values fall
// inside [min, max]. Null values are ignored; a window with no values passes.
func expectValuesBetween(name string, values []*float64, min, max, mostly float64) ExpectationResult {
	var total, inRange int

	for _, v := range values {
		if v == nil {
			continue
		}

		total++

		if *v >= min && *v <= max {
			inRange++
		}
	}

	if total == 0 {
		return ExpectationResult{Name: name, Passed: true, Observed: "no non-null values"}
	}

	fraction := float64(inRange) / float64(total)

	return ExpectationResult{
		Name:     name,
		Passed:   fraction >= mostly,
		Observed: fmt.Sprintf("%d/%d in range (%.3f, need %.2f)", inRange, total, fraction, mostly),
	}
}

// expectAllPresent checks that every row has the named field set.
func expectAllPresent(name string, missing int, total int) ExpectationResult {
	return ExpectationResult{
		Name:     name,
		Passed:   missing == 0,
		Observed: fmt.Sprintf("%d/%d missing", missing, total),
	}
}

// expectUniqueKeys checks compound-key uniqueness over the window.
func expectUniqueKeys(name string, keys []string) ExpectationResult {
	seen := make(map[string]struct{}, len(keys))

	var duplicates int

	for _, key := range keys {
		if _, ok := seen[key]; ok {
			duplicates++

			continue
		}

		seen[key] = struct{}{}
	}

	return ExpectationResult{
		Name:     name,
		Passed:   duplicates == 0,
		Observed: fmt.Sprintf("%d duplicate keys in %d rows", duplicates, len(keys)),
	}
}

// expectAllAtLeast checks that every value meets a minimum.
func expectAllAtLeast(name string, values []int64, min int64) ExpectationResult {
	var below int

	for _, v := range values {
		if v < min {
			below++
		}
	}

	return ExpectationResult{
		Name:     name,
		Passed:   below == 0,
		Observed: fmt.Sprintf("%d/%d below %d", below, len(values), min),
	}
}
