package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"validation", Validation("prompt", "Prompt is required"), ErrValidation},
		{"submission", Submission("engine unreachable", errors.New("dial tcp: refused")), ErrSubmission},
		{"transient poll", TransientPoll(errors.New("timeout")), ErrTransientPoll},
		{"materialization", Materialization("result missing mp3 path", nil), ErrMaterialization},
		{"not found", NotFound("job", "abc"), ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if !errors.Is(tc.err, tc.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false, want true", tc.err, tc.sentinel)
			}
			for _, other := range []error{ErrValidation, ErrSubmission, ErrTransientPoll, ErrMaterialization, ErrNotFound} {
				if other != tc.sentinel && errors.Is(tc.err, other) {
					t.Errorf("errors.Is(%v, %v) = true, want false", tc.err, other)
				}
			}
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("create job: %w", Validation("durationSeconds", "durationSeconds must be between 10 and 300"))
	if !errors.Is(err, ErrValidation) {
		t.Error("wrapped validation error lost its classification")
	}
}

func TestMessage(t *testing.T) {
	err := NotFound("track", "t-1")
	if got, want := err.Error(), "track t-1 not found"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
