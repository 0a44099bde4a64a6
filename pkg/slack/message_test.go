package slack

import (
	"strings"
	"testing"
)

func TestBuildRejectionMessage(t *testing.T) {
	blocks := BuildRejectionMessage("scope-1", "facts_extracted", "drift_checked", "policy denied")
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
}

func TestBuildCertificateMessage_convergedVsOther(t *testing.T) {
	converged := BuildCertificateMessage("scope-1", "converged")
	other := BuildCertificateMessage("scope-1", "escalated")
	if len(converged) != 1 || len(other) != 1 {
		t.Fatalf("expected single block per message")
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxBlockTextLength+100)
	out := truncate(long)
	if len(out) <= maxBlockTextLength {
		t.Fatalf("expected truncation marker appended")
	}
	if out[:maxBlockTextLength] != long[:maxBlockTextLength] {
		t.Fatalf("truncate must preserve the prefix")
	}
}
