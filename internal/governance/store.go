// Package governance is the human control plane: kill switch, operating
// mode, confidence thresholds and per-incident approvals, all stored in
// Redis so every process reads the same live state.
package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Operating modes.
const (
	ModeAuto    = "auto"    // act without human review
	ModeAssist  = "assist"  // classify, hold remediation for approval
	ModeMonitor = "monitor" // classify only, no external side effects
)

// Threshold actions. Values are percentages (0-100).
const (
	ThresholdAssign     = "auto_assign"
	ThresholdCategorize = "auto_categorize"
	ThresholdRemediate  = "auto_remediate"
)

const (
	keyKillSwitch      = "gov:killswitch"
	keyMode            = "gov:mode"
	keyThresholdPrefix = "gov:threshold:"
	keyApprovalPrefix  = "approval:"
	keyAuditKillSwitch = "audit:killswitch"
	keyAuditApprovals  = "audit:approvals"

	approvalTTL = time.Hour
)

var defaultThresholds = map[string]int{
	ThresholdAssign:     85,
	ThresholdCategorize: 80,
	ThresholdRemediate:  95,
}

// State is a point-in-time snapshot of the control plane. It is read fresh
// at every decision point; nothing caches it.
type State struct {
	Enabled             bool   `json:"enabled"`
	Mode                string `json:"mode"`
	ThresholdAssign     int    `json:"threshold_assign"`
	ThresholdCategorize int    `json:"threshold_categorize"`
	ThresholdRemediate  int    `json:"threshold_remediate"`
}

// Approval is a recorded human decision on a held action.
type Approval struct {
	Timestamp string `json:"timestamp"`
	Incident  string `json:"incident"`
	Action    string `json:"action"` // approved | rejected
	Approver  string `json:"approver"`
	Reason    string `json:"reason,omitempty"`
}

// Store reads and mutates governance state in Redis.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// EnsureDefaults seeds killswitch and mode on first boot so operators see
// explicit values instead of key absence. Existing values are untouched.
func (s *Store) EnsureDefaults(ctx context.Context) error {
	if err := s.rdb.SetNX(ctx, keyKillSwitch, "true", 0).Err(); err != nil {
		return fmt.Errorf("seed killswitch: %w", err)
	}
	if err := s.rdb.SetNX(ctx, keyMode, ModeAssist, 0).Err(); err != nil {
		return fmt.Errorf("seed mode: %w", err)
	}
	return nil
}

// Snapshot reads the full control-plane state. "true" (or an absent key)
// means the system is enabled; only the literal "false" halts it.
func (s *Store) Snapshot(ctx context.Context) (State, error) {
	st := State{
		Enabled:             true,
		Mode:                ModeAssist,
		ThresholdAssign:     defaultThresholds[ThresholdAssign],
		ThresholdCategorize: defaultThresholds[ThresholdCategorize],
		ThresholdRemediate:  defaultThresholds[ThresholdRemediate],
	}

	kill, err := s.rdb.Get(ctx, keyKillSwitch).Result()
	if err != nil && err != redis.Nil {
		return st, fmt.Errorf("read killswitch: %w", err)
	}
	st.Enabled = kill != "false"

	if mode, err := s.rdb.Get(ctx, keyMode).Result(); err == nil && mode != "" {
		st.Mode = mode
	} else if err != nil && err != redis.Nil {
		return st, fmt.Errorf("read mode: %w", err)
	}

	st.ThresholdAssign = s.threshold(ctx, ThresholdAssign)
	st.ThresholdCategorize = s.threshold(ctx, ThresholdCategorize)
	st.ThresholdRemediate = s.threshold(ctx, ThresholdRemediate)
	return st, nil
}

func (s *Store) threshold(ctx context.Context, action string) int {
	v, err := s.rdb.Get(ctx, keyThresholdPrefix+action).Result()
	if err != nil {
		return defaultThresholds[action]
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultThresholds[action]
	}
	return n
}

// SetEnabled flips the kill switch and appends the flip to the audit trail.
func (s *Store) SetEnabled(ctx context.Context, enabled bool, actor, reason string) error {
	val := "true"
	if !enabled {
		val = "false"
	}
	if err := s.rdb.Set(ctx, keyKillSwitch, val, 0).Err(); err != nil {
		return fmt.Errorf("set killswitch: %w", err)
	}

	entry, _ := json.Marshal(map[string]string{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"enabled":   val,
		"actor":     actor,
		"reason":    reason,
	})
	return s.rdb.LPush(ctx, keyAuditKillSwitch, entry).Err()
}

// SetMode validates and stores the operating mode.
func (s *Store) SetMode(ctx context.Context, mode string) error {
	switch mode {
	case ModeAuto, ModeAssist, ModeMonitor:
	default:
		return fmt.Errorf("invalid mode %q", mode)
	}
	return s.rdb.Set(ctx, keyMode, mode, 0).Err()
}

// SetThreshold stores a confidence threshold for a known action.
func (s *Store) SetThreshold(ctx context.Context, action string, value int) error {
	if _, ok := defaultThresholds[action]; !ok {
		return fmt.Errorf("unknown threshold action %q", action)
	}
	if value < 0 || value > 100 {
		return fmt.Errorf("threshold out of range: %d", value)
	}
	return s.rdb.Set(ctx, keyThresholdPrefix+action, strconv.Itoa(value), 0).Err()
}

// RecordApproval stores an approve/reject decision for one hour and appends
// it to the approvals audit list.
func (s *Store) RecordApproval(ctx context.Context, a Approval) error {
	if a.Timestamp == "" {
		a.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal approval: %w", err)
	}
	if err := s.rdb.Set(ctx, keyApprovalPrefix+a.Incident, payload, approvalTTL).Err(); err != nil {
		return fmt.Errorf("store approval: %w", err)
	}
	return s.rdb.LPush(ctx, keyAuditApprovals, payload).Err()
}

// Approved reports whether a live, unexpired approval exists for the
// incident. Rejections and missing keys both report false.
func (s *Store) Approved(ctx context.Context, incident string) (bool, error) {
	raw, err := s.rdb.Get(ctx, keyApprovalPrefix+incident).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read approval: %w", err)
	}
	var a Approval
	if err := json.Unmarshal(raw, &a); err != nil {
		return false, fmt.Errorf("decode approval: %w", err)
	}
	return a.Action == "approved", nil
}

// KillSwitchAudit returns the most recent kill-switch flips, newest first.
func (s *Store) KillSwitchAudit(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	rows, err := s.rdb.LRange(ctx, keyAuditKillSwitch, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read killswitch audit: %w", err)
	}
	out := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, json.RawMessage(r))
	}
	return out, nil
}
