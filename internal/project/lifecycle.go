package project

import (
	"fmt"
	"sort"
	"strings"

	xerrors "CreatorServices/internal/errors"
)

// State is the canonical lifecycle state of an agreement, independent of how
// a particular escrow program numbers its statuses.
type State string

const (
	StateProposed   State = "proposed"
	StateAccepted   State = "accepted"
	StateRejected   State = "rejected"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
)

var knownStates = map[State]struct{}{
	StateProposed:   {},
	StateAccepted:   {},
	StateRejected:   {},
	StateInProgress: {},
	StateCompleted:  {},
}

// ParseState accepts the canonical names case-insensitively.
func ParseState(raw string) (State, bool) {
	state := State(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownStates[state]
	return state, ok
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Reported folds Accepted into InProgress: acceptance enters InProgress
// immediately, so callers never observe Accepted.
func (s State) Reported() State {
	if s == StateAccepted {
		return StateInProgress
	}
	return s
}

var transitions = map[State][]State{
	StateProposed:   {StateAccepted, StateRejected},
	StateAccepted:   {StateInProgress},
	StateInProgress: {StateCompleted},
}

// CanTransition reports whether from → to is an edge of the lifecycle.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates from → to, returning INVALID_TRANSITION otherwise.
func Transition(from, to State) error {
	if CanTransition(from, to) {
		return nil
	}
	return xerrors.New(xerrors.CodeInvalidTransition, fmt.Sprintf("不允许从 %s 迁移到 %s", from, to),
		xerrors.WithMetadata("from", string(from)),
		xerrors.WithMetadata("to", string(to)))
}

// StatusTable maps raw escrow status codes to canonical states.
type StatusTable map[uint8]State

// requiredStates must each be reachable through some code. Accepted is
// optional because some programs move straight to InProgress.
var requiredStates = []State{StateProposed, StateRejected, StateInProgress, StateCompleted}

// NewStatusTable validates a raw code table as configured for a network.
func NewStatusTable(codes map[uint8]string) (StatusTable, error) {
	if len(codes) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置账本状态码映射表")
	}
	table := make(StatusTable, len(codes))
	seen := make(map[State]bool, len(codes))
	for code, raw := range codes {
		state, ok := ParseState(raw)
		if !ok {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("状态码 %d 映射到未知状态 %q", code, raw))
		}
		table[code] = state
		seen[state] = true
	}
	for _, state := range requiredStates {
		if !seen[state] {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("状态码映射表缺少 %s", state))
		}
	}
	return table, nil
}

// Resolve maps a raw code. Unmapped codes are read failures, never guessed.
func (t StatusTable) Resolve(code uint8) (State, error) {
	state, ok := t[code]
	if !ok {
		return "", xerrors.New(xerrors.CodeLedgerReadFailed, fmt.Sprintf("未知的账本状态码 %d", code),
			xerrors.WithMetadata("status_code", fmt.Sprint(code)))
	}
	return state, nil
}

// String renders the table in code order.
func (t StatusTable) String() string {
	codes := make([]int, 0, len(t))
	for code := range t {
		codes = append(codes, int(code))
	}
	sort.Ints(codes)
	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		parts = append(parts, fmt.Sprintf("%d=%s", code, t[uint8(code)]))
	}
	return strings.Join(parts, ",")
}

// Role selects which party field of an agreement a view matches on.
type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

// ParseRole accepts "client" and "provider" case-insensitively.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleClient:
		return RoleClient, nil
	case RoleProvider:
		return RoleProvider, nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知角色 %q", raw))
	}
}
