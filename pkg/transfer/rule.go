package transfer

import (
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/dittomft/internal/protocol/mft/packet"
)

// TaskSpec describes one pre, post or error task of a rule.
type TaskSpec struct {
	Type  string `mapstructure:"type" yaml:"type" validate:"required"`
	Path  string `mapstructure:"path" yaml:"path"`
	Delay int    `mapstructure:"delay" yaml:"delay"`
}

// Rule describes how transfers of a given name run: direction, allowed
// partners, directories and tasks. Tasks are split by the local role: the
// Recv* lists run on the receiving host and the Send* lists on the sending host.
type Rule struct {
	Name     string
	Mode     packet.Mode
	Hosts    []string
	RecvPath string
	SendPath string
	WorkPath string

	RecvPreTasks   []TaskSpec
	RecvPostTasks  []TaskSpec
	RecvErrorTasks []TaskSpec
	SendPreTasks   []TaskSpec
	SendPostTasks  []TaskSpec
	SendErrorTasks []TaskSpec
}

// IsHostAllowed reports whether hostID may use this rule. An empty host list
// allows every host.
func (r *Rule) IsHostAllowed(hostID string) bool {
	return len(r.Hosts) == 0 || slices.Contains(r.Hosts, hostID)
}

// PreTasks returns the pre tasks for the local role.
func (r *Rule) PreTasks(isSender bool) []TaskSpec {
	if isSender {
		return r.SendPreTasks
	}
	return r.RecvPreTasks
}

// PostTasks returns the post tasks for the local role.
func (r *Rule) PostTasks(isSender bool) []TaskSpec {
	if isSender {
		return r.SendPostTasks
	}
	return r.RecvPostTasks
}

// ErrorTasks returns the error tasks for the local role.
func (r *Rule) ErrorTasks(isSender bool) []TaskSpec {
	if isSender {
		return r.SendErrorTasks
	}
	return r.RecvErrorTasks
}

// RuleSet is an in-memory, concurrency-safe index of rules by name.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewRuleSet indexes rules by name.
func NewRuleSet(rules ...*Rule) *RuleSet {
	rs := &RuleSet{rules: make(map[string]*Rule, len(rules))}
	for _, r := range rules {
		rs.rules[r.Name] = r
	}
	return rs
}

// Get returns the rule named name.
func (rs *RuleSet) Get(name string) (*Rule, error) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.rules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, name)
	}
	return r, nil
}

// Put adds or replaces a rule.
func (rs *RuleSet) Put(r *Rule) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules[r.Name] = r
}

// Names returns the sorted rule names.
func (rs *RuleSet) Names() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	names := make([]string, 0, len(rs.rules))
	for n := range rs.rules {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
