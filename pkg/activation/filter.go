package activation

import "time"

// Context is the activation context handed to a role runner on a
// successful filter pass (§4.4: "The activation context returned on
// success ({latestSeq, currentHash, field})").
type Context struct {
	LatestSeq   int64
	CurrentHash string
}

// Decision is the result of running the activation filter once.
type Decision struct {
	Allowed bool
	Reason  string // "cooldown", "no_new_input", "duplicate_hash", "anchor_node_mismatch", ""
	// RetryAfter is set only when Reason == "cooldown": the bus handler
	// should nak-with-delay rather than ack-drop (§4.4).
	RetryAfter time.Duration
	Context    Context
}

const (
	ReasonCooldown       = "cooldown"
	ReasonNoNewInput     = "no_new_input"
	ReasonDuplicateHash  = "duplicate_hash"
	ReasonAnchorMismatch = "anchor_node_mismatch"
)

// Input bundles everything Evaluate needs to decide, without touching the
// database itself — Evaluate is a pure function so it can be unit tested
// without a live store.
type Input struct {
	Now time.Time

	Cfg FilterConfig
	Mem *Memory // nil means the role has never activated in this scope

	// LatestSeq is the highest WAL seq visible for the scope right now.
	LatestSeq int64
	// CurrentHash is the role's precomputed content hash over the inputs
	// named by Cfg.HashKeys (the role runner computes this; the filter
	// only compares it).
	CurrentHash string
	// UseDriftHash selects Mem.LastDriftHash instead of Mem.LastHash for
	// the dedup comparison (§4.4: "or lastDriftHash for drift-consuming
	// roles").
	UseDriftHash bool
	// CurrentNode is the scope's current StateGraph node.
	CurrentNode string
}

// Evaluate runs the four gates of §4.4 in order, short-circuiting on the
// first rejection.
func Evaluate(in Input) Decision {
	var lastActivatedAt time.Time
	var lastProcessedSeq int64
	var lastHash string
	if in.Mem != nil {
		if in.Mem.LastActivatedAt != nil {
			lastActivatedAt = *in.Mem.LastActivatedAt
		}
		lastProcessedSeq = in.Mem.LastProcessedSeq
		if in.UseDriftHash {
			lastHash = in.Mem.LastDriftHash
		} else {
			lastHash = in.Mem.LastHash
		}
	}

	// Cooldown.
	if in.Cfg.CooldownMs > 0 && !lastActivatedAt.IsZero() {
		cooldown := time.Duration(in.Cfg.CooldownMs) * time.Millisecond
		elapsed := in.Now.Sub(lastActivatedAt)
		if elapsed < cooldown {
			return Decision{Allowed: false, Reason: ReasonCooldown, RetryAfter: cooldown - elapsed}
		}
	}

	// Fresh-input.
	minNew := in.Cfg.MinNewSeqSinceLast
	if minNew <= 0 {
		minNew = 1
	}
	if in.LatestSeq-lastProcessedSeq < int64(minNew) {
		return Decision{Allowed: false, Reason: ReasonNoNewInput}
	}

	// Content-hash dedup.
	if lastHash != "" && in.CurrentHash == lastHash {
		return Decision{Allowed: false, Reason: ReasonDuplicateHash}
	}

	// Anchor-node gate.
	if in.Cfg.AnchorNode != "" && in.Cfg.AnchorNode != in.CurrentNode {
		return Decision{Allowed: false, Reason: ReasonAnchorMismatch}
	}

	return Decision{
		Allowed: true,
		Context: Context{LatestSeq: in.LatestSeq, CurrentHash: in.CurrentHash},
	}
}
