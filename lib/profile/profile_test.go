// Copyright 2026 The Meshfox Authors
// SPDX-License-Identifier: Apache-2.0

package profile_test

import (
	"sync"
	"testing"

	"github.com/meshfox/meshfox/lib/profile"
)

type recordingWriter struct {
	mu      sync.Mutex
	written []profile.StateNotification
}

func (w *recordingWriter) Write(n profile.StateNotification) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, n)
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

func TestDeliverWritesThroughWhenBrowserClosed(t *testing.T) {
	writer := &recordingWriter{}
	sub := profile.NewSubscription(writer, func() bool { return false })

	sub.Deliver(profile.StateNotification{Family: profile.FamilyPref, State: "value"})

	if got := writer.count(); got != 1 {
		t.Fatalf("writer received %d notifications, want 1", got)
	}
	if got := sub.Pending(); got != 0 {
		t.Fatalf("Pending() = %d, want 0", got)
	}
}

func TestDeliverQueuesWhileBrowserRunning(t *testing.T) {
	writer := &recordingWriter{}
	running := true
	sub := profile.NewSubscription(writer, func() bool { return running })

	sub.Deliver(profile.StateNotification{Family: profile.FamilyExtension, State: "ext-1"})
	sub.Deliver(profile.StateNotification{Family: profile.FamilyExtension, State: "ext-2"})

	if got := writer.count(); got != 0 {
		t.Fatalf("writer received %d notifications while running, want 0", got)
	}
	if got := sub.Pending(); got != 2 {
		t.Fatalf("Pending() = %d, want 2", got)
	}

	running = false
	sub.Flush()

	if got := writer.count(); got != 2 {
		t.Fatalf("writer received %d notifications after Flush, want 2", got)
	}
	if got := sub.Pending(); got != 0 {
		t.Fatalf("Pending() after Flush = %d, want 0", got)
	}
}

func TestFlushIsNoOpWhileBrowserRunning(t *testing.T) {
	writer := &recordingWriter{}
	sub := profile.NewSubscription(writer, func() bool { return true })

	sub.Deliver(profile.StateNotification{Family: profile.FamilyContainer, State: "c1"})
	sub.Flush()

	if got := writer.count(); got != 0 {
		t.Fatalf("writer received %d notifications, want 0 (browser still running)", got)
	}
}

func TestDeliverFlushesExistingQueueBeforeWritingThrough(t *testing.T) {
	writer := &recordingWriter{}
	running := true
	sub := profile.NewSubscription(writer, func() bool { return running })

	sub.Deliver(profile.StateNotification{Family: profile.FamilyTab, State: "queued"})
	running = false
	sub.Deliver(profile.StateNotification{Family: profile.FamilyTab, State: "immediate"})

	if got := writer.count(); got != 2 {
		t.Fatalf("writer received %d notifications, want 2 (queued + immediate)", got)
	}
}
