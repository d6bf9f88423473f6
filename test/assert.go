package test

import (
	"errors"
	"testing"
)

func AssertEqual[T comparable](t testing.TB, expected, actual T) bool {
	t.Helper()

	if expected != actual {
		t.Errorf(""+
			"Not equal: \n"+
			"Expected: %v\n"+
			"Actual: %v", expected, actual)
		return false
	}

	return true
}

func AssertNoError(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func AssertErrorIs(t testing.TB, err, target error) bool {
	t.Helper()

	if !errors.Is(err, target) {
		t.Errorf(""+
			"Error mismatch: \n"+
			"Expected: %v\n"+
			"Actual: %v", target, err)
		return false
	}

	return true
}
