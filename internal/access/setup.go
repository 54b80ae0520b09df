package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Status is the deployment lifecycle
type Status string

const (
	StatusNone      Status = "none"
	StatusDeployed  Status = "deployed"
	StatusFinalized Status = "finalized"
)

// ErrSetupState is returned for a lifecycle call in the wrong status
var ErrSetupState = errors.New("invalid setup status")

// SetupState is the persisted form of a Setup
type SetupState struct {
	Status   Status         `json:"status"`
	Deployer common.Address `json:"deployer"`
	Agent    common.Address `json:"agent"`
}

// Setup drives Deployed → Finalized over a role table
type Setup struct {
	mu    sync.Mutex
	state SetupState
	roles *Control
}

// NewSetup starts in StatusNone
func NewSetup(roles *Control) *Setup {
	return &Setup{state: SetupState{Status: StatusNone}, roles: roles}
}

// RestoreSetup resumes a persisted lifecycle
func RestoreSetup(roles *Control, state SetupState) *Setup {
	return &Setup{state: state, roles: roles}
}

// State returns a copy of the lifecycle state
func (s *Setup) State() SetupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Roles exposes the underlying table
func (s *Setup) Roles() *Control {
	return s.roles
}

// Deploy grants every role to both the agent and the deployer
func (s *Setup) Deploy(deployer, agent common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusNone {
		return fmt.Errorf("deploy from %s: %w", s.state.Status, contracts.ErrAlreadyInitialized)
	}
	if deployer == (common.Address{}) || agent == (common.Address{}) {
		return fmt.Errorf("deployer and agent must be set")
	}

	for _, r := range contracts.AllRoles {
		s.roles.grant(r, agent)
		s.roles.grant(r, deployer)
	}
	s.state = SetupState{Status: StatusDeployed, Deployer: deployer, Agent: agent}
	return nil
}

// Finalize revokes the deployer's roles. One way; deployer only.
func (s *Setup) Finalize(caller common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != StatusDeployed {
		return fmt.Errorf("finalize from %s: %w", s.state.Status, ErrSetupState)
	}
	if caller != s.state.Deployer {
		return fmt.Errorf("%s is not the deployer: %w", caller.Hex(), contracts.ErrUnauthorized)
	}

	if s.state.Deployer != s.state.Agent {
		for _, r := range contracts.AllRoles {
			s.roles.revoke(r, s.state.Deployer)
		}
	}
	s.state.Status = StatusFinalized
	return nil
}

// Check verifies the role table matches the lifecycle status. It never mutates.
func (s *Setup) Check() error {
	state := s.State()

	var want []common.Address
	switch state.Status {
	case StatusFinalized:
		want = []common.Address{state.Agent}
	case StatusDeployed:
		want = []common.Address{state.Agent}
		if state.Deployer != state.Agent {
			want = append(want, state.Deployer)
		}
	default:
		return fmt.Errorf("check in %s: %w", state.Status, ErrSetupState)
	}

	for _, r := range contracts.AllRoles {
		holders := s.roles.Holders(r)
		if len(holders) != len(want) {
			return fmt.Errorf("%s has %d holders, want %d", r, len(holders), len(want))
		}
		for _, w := range want {
			if !s.roles.HasRole(r, w) {
				return fmt.Errorf("%s is not held by %s", r, w.Hex())
			}
		}
	}
	return nil
}
