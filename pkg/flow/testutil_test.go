package flow

import (
	"context"
)

// Test state types used across tests.

// Counter pairs with an int delta that the merge adds.
type Counter struct {
	Value int `json:"value"`
}

func addCounter(s Counter, d int) Counter {
	s.Value += d
	return s
}

// plusOne is a node that emits a +1 delta.
func plusOne(ctx Context, s Counter) (int, error) {
	return 1, nil
}

// Track exercises reducer-style and overwrite-style merge fields.
type Track struct {
	Steps []string `json:"steps"`
	Final string   `json:"final"`
	Label string   `json:"label"`
}

// TrackDelta is the partial update for Track.
type TrackDelta struct {
	Steps []string
	Final *string
	Label *string
}

func mergeTrack(s Track, d TrackDelta) Track {
	if len(d.Steps) > 0 {
		merged := make([]string, 0, len(s.Steps)+len(d.Steps))
		merged = append(merged, s.Steps...)
		merged = append(merged, d.Steps...)
		s.Steps = merged
	}
	if d.Final != nil {
		s.Final = *d.Final
	}
	if d.Label != nil {
		s.Label = *d.Label
	}
	return s
}

func strp(v string) *string { return &v }

// stepNode records its name in the step list.
func stepNode(name string) NodeFunc[Track, TrackDelta] {
	return func(ctx Context, s Track) (TrackDelta, error) {
		return TrackDelta{Steps: []string{name}}, nil
	}
}

// finalNode records its name and sets the final output.
func finalNode(name, output string) NodeFunc[Track, TrackDelta] {
	return func(ctx Context, s Track) (TrackDelta, error) {
		return TrackDelta{Steps: []string{name}, Final: strp(output)}, nil
	}
}

// failingNode returns the given error.
func failingNode(err error) NodeFunc[Track, TrackDelta] {
	return func(ctx Context, s Track) (TrackDelta, error) {
		return TrackDelta{}, err
	}
}

// panicNode panics with the given value.
func panicNode(value any) NodeFunc[Track, TrackDelta] {
	return func(ctx Context, s Track) (TrackDelta, error) {
		panic(value)
	}
}

// labelRouter routes on the state's label.
func labelRouter(ctx Context, s Track) string {
	return s.Label
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}
