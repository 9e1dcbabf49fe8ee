package client

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoffDelayProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// The delay before attempt N is base * 2^(N-1).
	properties.Property("backoff doubles per attempt", prop.ForAll(
		func(baseMs, attempt int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			want := base
			for i := 1; i < attempt; i++ {
				want *= 2
			}
			return BackoffDelay(base, attempt) == want
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 20),
	))

	// Successive attempts never shrink the delay.
	properties.Property("backoff is monotonic", prop.ForAll(
		func(baseMs, attempt int) bool {
			base := time.Duration(baseMs) * time.Millisecond
			return BackoffDelay(base, attempt+1) >= BackoffDelay(base, attempt)
		},
		gen.IntRange(1, 1000),
		gen.IntRange(1, 19),
	))

	properties.TestingRun(t)
}

func TestOfflineQueueOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Whatever is published while disconnected is flushed on connect in
	// the original publish order, nothing lost, nothing duplicated.
	properties.Property("offline publishes flush in order", prop.ForAll(
		func(count int) bool {
			ff := &fakeFactory{}
			m := newTestManager(ff)

			for i := 0; i < count; i++ {
				m.Publish("team_42", json.RawMessage(`{}`), fmt.Sprintf("req-%d", i))
			}
			if m.QueuedCount() != count {
				return false
			}

			if err := m.Connect(); err != nil {
				return false
			}
			if m.QueuedCount() != 0 {
				return false
			}

			frames := ff.latest().frames()
			if len(frames) != count {
				return false
			}
			for i, frame := range frames {
				if frame.RequestID != fmt.Sprintf("req-%d", i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 25),
	))

	properties.TestingRun(t)
}
