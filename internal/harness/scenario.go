package harness

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/docsync/internal/syncer"
)

// Scenario is a scripted run against a set of in-process replicas, each
// served over real HTTP and paired with a peer.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Replicas configures the participants. When empty, two replicas "a"
	// (client 1) and "b" (client 2) are created, each the other's peer.
	Replicas map[string]ReplicaSpec `yaml:"replicas,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and the final documents.
	Assertions []Assertion `yaml:"assertions"`
}

// ReplicaSpec configures one participant.
type ReplicaSpec struct {
	// ClientID is the replica's engine client id. Must be unique, nonzero
	// and fit in 32 bits.
	ClientID uint64 `yaml:"client_id"`

	// Peer names the replica this one syncs with. With exactly two replicas
	// it defaults to the other one.
	Peer string `yaml:"peer,omitempty"`

	// CompactPeer is the sync policy: on_push (default) or always.
	CompactPeer string `yaml:"compact_peer,omitempty"`
}

// Step is one operation on one replica.
type Step struct {
	// On names the replica.
	On string `yaml:"on"`

	// Do is the operation: init, add_count, snapshot, sync, compact,
	// offline or online.
	Do string `yaml:"do"`

	// Expect is a subset match against the step's outcome and result
	// fields, e.g. {outcome: ok, count: 2}.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpInit     = "init"
	OpAddCount = "add_count"
	OpSnapshot = "snapshot"
	OpSync     = "sync"
	OpCompact  = "compact"
	OpOffline  = "offline"
	OpOnline   = "online"
)

var knownOps = map[string]bool{
	OpInit: true, OpAddCount: true, OpSnapshot: true, OpSync: true,
	OpCompact: true, OpOffline: true, OpOnline: true,
}

// Assertion validates the trace or the final documents.
type Assertion struct {
	// Type specifies the assertion type:
	// - "converged": listed replicas (all if empty) hold identical documents
	// - "count": root.count of Replica equals Equals
	// - "pending": un-compacted log entries of Replica equal Equals
	// - "trace_count": Op (optionally on Replica) ran exactly Count times
	// - "trace_order": Ops first appear in this order
	Type string `yaml:"type"`

	Replica  string   `yaml:"replica,omitempty"`
	Replicas []string `yaml:"replicas,omitempty"`
	Equals   int64    `yaml:"equals,omitempty"`
	Op       string   `yaml:"op,omitempty"`
	Count    int      `yaml:"count,omitempty"`
	Ops      []string `yaml:"ops,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged  = "converged"
	AssertCount      = "count"
	AssertPending    = "pending"
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	scenario.applyDefaults()
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func (s *Scenario) applyDefaults() {
	if len(s.Replicas) == 0 {
		s.Replicas = map[string]ReplicaSpec{
			"a": {ClientID: 1},
			"b": {ClientID: 2},
		}
	}
	names := s.replicaNames()
	if len(names) == 2 {
		for i, name := range names {
			spec := s.Replicas[name]
			if spec.Peer == "" {
				spec.Peer = names[1-i]
				s.Replicas[name] = spec
			}
		}
	}
	for name, spec := range s.Replicas {
		if spec.CompactPeer == "" {
			spec.CompactPeer = string(syncer.CompactPeerOnPush)
			s.Replicas[name] = spec
		}
	}
}

// replicaNames returns the replica names in sorted order.
func (s *Scenario) replicaNames() []string {
	names := make([]string, 0, len(s.Replicas))
	for name := range s.Replicas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	clients := make(map[uint64]string)
	for _, name := range s.replicaNames() {
		spec := s.Replicas[name]
		if spec.ClientID == 0 {
			return fmt.Errorf("replicas.%s: client_id is required", name)
		}
		if spec.ClientID > math.MaxUint32 {
			return fmt.Errorf("replicas.%s: client_id %d exceeds 32 bits", name, spec.ClientID)
		}
		if other, dup := clients[spec.ClientID]; dup {
			return fmt.Errorf("replicas.%s: client_id %d already used by %s", name, spec.ClientID, other)
		}
		clients[spec.ClientID] = name
		if spec.Peer != "" {
			if _, ok := s.Replicas[spec.Peer]; !ok || spec.Peer == name {
				return fmt.Errorf("replicas.%s: invalid peer %q", name, spec.Peer)
			}
		}
		switch syncer.CompactPeerPolicy(spec.CompactPeer) {
		case syncer.CompactPeerOnPush, syncer.CompactPeerAlways:
		default:
			return fmt.Errorf("replicas.%s: unknown compact_peer %q", name, spec.CompactPeer)
		}
	}

	for i, step := range s.Steps {
		if _, ok := s.Replicas[step.On]; !ok {
			return fmt.Errorf("steps[%d]: unknown replica %q", i, step.On)
		}
		if !knownOps[step.Do] {
			return fmt.Errorf("steps[%d]: unknown operation %q", i, step.Do)
		}
		if step.Do == OpSync && s.Replicas[step.On].Peer == "" {
			return fmt.Errorf("steps[%d]: replica %q has no peer to sync with", i, step.On)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, s *Scenario) error {
	knownReplica := func(name string) bool {
		_, ok := s.Replicas[name]
		return ok
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertConverged:
		for _, name := range a.Replicas {
			if !knownReplica(name) {
				return fmt.Errorf("assertions[%d]: unknown replica %q", index, name)
			}
		}
	case AssertCount, AssertPending:
		if !knownReplica(a.Replica) {
			return fmt.Errorf("assertions[%d]: replica is required for %s", index, a.Type)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
