// Package policy owns the security policy snapshot: the last-known state of the
// external security tooling, kept as a single record in the knowledge base.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/warden/internal/kv"
)

const (
	// Partition holds the singleton snapshot.
	Partition = "security_policy_tree"

	// Key is the fixed key of the singleton snapshot.
	Key = "current"
)

// Snapshot is the last-known state of the external security tools.
type Snapshot struct {
	ZscalerStatus               string `json:"zscaler_status"`
	CrowdstrikeEndpointCount    uint32 `json:"crowdstrike_endpoint_count"`
	ProofpointQuarantinedEmails uint32 `json:"proofpoint_quarantined_emails"`
	JiraOpenTickets             uint32 `json:"jira_open_tickets"`
	MerakiNetworkHealth         string `json:"meraki_network_health"`
}

// Default returns the snapshot seeded into an empty knowledge base.
// The endpoint count sits below the rule-synthesis threshold on purpose.
func Default() Snapshot {
	return Snapshot{
		ZscalerStatus:               "OK",
		CrowdstrikeEndpointCount:    42,
		ProofpointQuarantinedEmails: 3,
		JiraOpenTickets:             7,
		MerakiNetworkHealth:         "DEGRADED",
	}
}

// ErrInvalid is returned by Update for a snapshot that fails Validate.
var ErrInvalid = errors.New("invalid policy")

// Validate reports whether the snapshot is complete enough to persist.
func (s Snapshot) Validate() error {
	var errs []error
	if s.ZscalerStatus == "" {
		errs = append(errs, errors.New("zscaler_status is required"))
	}
	if s.MerakiNetworkHealth == "" {
		errs = append(errs, errors.New("meraki_network_health is required"))
	}
	return errors.Join(errs...)
}

// Store loads and updates the snapshot in its partition.
type Store struct {
	db         kv.Store
	logger     log.Logger
	onDegraded kv.DegradedFunc
}

// NewStore creates a policy store on db. onDegraded may be nil.
func NewStore(db kv.Store, logger log.Logger, onDegraded kv.DegradedFunc) *Store {
	if logger == nil {
		logger = log.Nop()
	}
	return &Store{db: db, logger: logger, onDegraded: onDegraded}
}

// Load returns the current snapshot, seeding Default when none is stored.
// It never fails: any store or decoding error degrades to Default.
func (s *Store) Load(ctx context.Context) Snapshot {
	snap, err := s.load(ctx)
	if err != nil {
		s.logger.Warn(ctx, "policy load degraded to default", "partition", Partition, "error", err)
		if s.onDegraded != nil {
			s.onDegraded("policy.load", err)
		}
	}
	return snap
}

// load returns Default alongside every error so Load can collapse them in one place.
func (s *Store) load(ctx context.Context) (Snapshot, error) {
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return Default(), err
	}

	raw, ok, err := p.Get(ctx, []byte(Key))
	var readErr error
	switch {
	case err != nil:
		readErr = err
	case ok:
		snap, derr := decode(raw)
		if derr == nil {
			return snap, nil
		}
		readErr = derr
	}

	seedErr := s.seed(ctx, p)
	if seedErr == nil {
		s.logger.Info(ctx, "seeded default security policy", "partition", Partition, "replaced_corrupt", readErr != nil)
	}
	return Default(), errors.Join(readErr, seedErr)
}

// seed writes Default. Concurrent first Loads may both seed; they write the
// same value, so neither overwrites anything the other needs.
func (s *Store) seed(ctx context.Context, p kv.Partition) error {
	return put(ctx, p, Default())
}

// Update overwrites the stored snapshot. Unlike Load it surfaces errors.
func (s *Store) Update(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	p, err := s.db.OpenPartition(ctx, Partition)
	if err != nil {
		return err
	}
	if err := put(ctx, p, snap); err != nil {
		return err
	}
	s.logger.Info(ctx, "security policy updated",
		"crowdstrike_endpoint_count", snap.CrowdstrikeEndpointCount,
		"zscaler_status", snap.ZscalerStatus,
		"meraki_network_health", snap.MerakiNetworkHealth,
	)
	return nil
}

func put(ctx context.Context, p kv.Partition, snap Snapshot) error {
	encoded, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encode policy: %w", kv.ErrSerialization, err)
	}
	if err := p.Insert(ctx, []byte(Key), encoded); err != nil {
		return err
	}
	return p.Flush(ctx)
}

// wireSnapshot mirrors Snapshot with pointer fields so decode can tell a
// missing or null key from a zero value.
type wireSnapshot struct {
	ZscalerStatus               *string `json:"zscaler_status"`
	CrowdstrikeEndpointCount    *uint32 `json:"crowdstrike_endpoint_count"`
	ProofpointQuarantinedEmails *uint32 `json:"proofpoint_quarantined_emails"`
	JiraOpenTickets             *uint32 `json:"jira_open_tickets"`
	MerakiNetworkHealth         *string `json:"meraki_network_health"`
}

// decode accepts any document carrying all five keys with the right types.
// Values are returned as stored; Validate only gates Update.
func decode(raw []byte) (Snapshot, error) {
	var st wireSnapshot
	if err := json.Unmarshal(raw, &st); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode policy: %w", kv.ErrSerialization, err)
	}

	var missing []string
	for _, f := range []struct {
		key     string
		present bool
	}{
		{"zscaler_status", st.ZscalerStatus != nil},
		{"crowdstrike_endpoint_count", st.CrowdstrikeEndpointCount != nil},
		{"proofpoint_quarantined_emails", st.ProofpointQuarantinedEmails != nil},
		{"jira_open_tickets", st.JiraOpenTickets != nil},
		{"meraki_network_health", st.MerakiNetworkHealth != nil},
	} {
		if !f.present {
			missing = append(missing, f.key)
		}
	}
	if len(missing) > 0 {
		return Snapshot{}, fmt.Errorf("%w: decode policy: missing %s", kv.ErrSerialization, strings.Join(missing, ", "))
	}

	return Snapshot{
		ZscalerStatus:               *st.ZscalerStatus,
		CrowdstrikeEndpointCount:    *st.CrowdstrikeEndpointCount,
		ProofpointQuarantinedEmails: *st.ProofpointQuarantinedEmails,
		JiraOpenTickets:             *st.JiraOpenTickets,
		MerakiNetworkHealth:         *st.MerakiNetworkHealth,
	}, nil
}
