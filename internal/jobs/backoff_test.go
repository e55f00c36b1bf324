package jobs

import (
	"testing"
	"time"
)

func TestRetryDelayGrowsAndIsBounded(t *testing.T) {
	var previous time.Duration
	for attempt := 0; attempt < 12; attempt++ {
		delay := retryDelay(attempt)
		base := retryBaseDelay << uint(attempt)
		if base > retryMaxDelay {
			base = retryMaxDelay
		}
		if delay < base {
			t.Fatalf("attempt %d: delay %v below base %v", attempt, delay, base)
		}
		if delay > retryMaxDelay+retryMaxDelay/4 {
			t.Fatalf("attempt %d: delay %v exceeds cap", attempt, delay)
		}
		if base < retryMaxDelay && delay < previous/4 {
			t.Fatalf("attempt %d: delay %v regressed far below previous %v", attempt, delay, previous)
		}
		previous = delay
	}
}

func TestRetryDelayNegativeAttempt(t *testing.T) {
	if delay := retryDelay(-3); delay < retryBaseDelay {
		t.Fatalf("negative attempt should clamp to base, got %v", delay)
	}
}

func TestQueueAssignment(t *testing.T) {
	cases := map[Type]string{
		TypeSearchIndexers:   QueueCritical,
		TypeDownloadTorrent:  QueueCritical,
		TypeDownloadMonitor:  QueueDefault,
		TypeOrganizeFiles:    QueueDefault,
		TypeLibraryScan:      QueueDefault,
		TypeSendNotification: QueueLow,
		TypeMaintenance:      QueueLow,
	}
	for jobType, want := range cases {
		if got := queueFor(jobType); got != want {
			t.Fatalf("%s: got queue %q, want %q", jobType, got, want)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, jobType := range AllTypes() {
		parsed, err := ParseType(string(jobType))
		if err != nil || parsed != jobType {
			t.Fatalf("round trip failed for %s: %v", jobType, err)
		}
	}
	if _, err := ParseType("frobnicate"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
