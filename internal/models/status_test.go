package models

import "testing"

func TestCanTransitionLifecycleEdges(t *testing.T) {
	cases := []struct {
		from    VideoStatus
		to      VideoStatus
		allowed bool
	}{
		{StatusUploaded, StatusReadyForProcessing, true},
		{StatusReadyForProcessing, StatusWaitingInQueue, true},
		{StatusWaitingInQueue, StatusProcessing, true},
		{StatusWaitingInQueue, StatusWaitingInQueue, true},
		{StatusProcessing, StatusWaitingInQueue, true},
		{StatusProcessing, StatusReadyToPublish, true},
		{StatusProcessing, StatusFailedInProcessing, true},
		{StatusReadyToPublish, StatusPublished, true},
		{StatusReadyForProcessing, StatusPublished, false},
		{StatusUploaded, StatusProcessing, false},
		{StatusPublished, StatusReadyToPublish, false},
		{StatusFailedInProcessing, StatusProcessing, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.allowed {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestDeletedIsTerminal(t *testing.T) {
	for from := range videoTransitions {
		if from == StatusDeleted {
			continue
		}
		if !CanTransition(from, StatusDeleted) {
			t.Fatalf("expected %s -> Deleted to be allowed", from)
		}
	}
	for to := range videoTransitions {
		if CanTransition(StatusDeleted, to) {
			t.Fatalf("expected Deleted -> %s to be rejected", to)
		}
	}
}

func TestKnownStatus(t *testing.T) {
	if !KnownStatus(StatusProcessing) {
		t.Fatal("expected Processing to be a known status")
	}
	if KnownStatus(VideoStatus("Archived")) {
		t.Fatal("expected unknown status to be rejected")
	}
}
