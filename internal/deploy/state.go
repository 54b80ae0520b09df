// Package deploy keeps the deployed-<network>.json state file and drives the
// Deployed → Finalized lifecycle against it.
package deploy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/access"
	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/sellerconfig"
)

// Deployment is the typed view of the state file
type Deployment struct {
	Network     string                              `json:"network"`
	SetupStatus access.Status                       `json:"setupStatus"`
	Deployer    common.Address                      `json:"deployer"`
	Agent       common.Address                      `json:"agent"`
	Seller      common.Address                      `json:"seller"`
	Roles       map[contracts.Role][]common.Address `json:"roles"`
	Pairs       []sellerconfig.Pair                 `json:"pairs"`
	ConfigHash  string                              `json:"configHash,omitempty"`
	UpdatedAt   time.Time                           `json:"updatedAt"`
}

// Deployed reports whether Deploy already ran for this file
func (d *Deployment) Deployed() bool {
	return d.SetupStatus == access.StatusDeployed || d.SetupStatus == access.StatusFinalized
}

// StateFile is a JSON object on disk. Updates merge top-level keys, so keys
// written by other tooling survive.
// ⭐ SSOT: the only writer of deployed-<network>.json
type StateFile struct {
	mu   sync.Mutex
	path string
}

// Path returns the state file location for a network
func Path(dir, network string) string {
	return filepath.Join(dir, fmt.Sprintf("deployed-%s.json", network))
}

// NewStateFile binds to path; the file is created on first update
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the file location
func (s *StateFile) Path() string {
	return s.path
}

// ReadOrUpdate merges update into the stored object and returns the result.
// A nil or empty update only reads. Unreadable JSON counts as empty.
func (s *StateFile) ReadOrUpdate(update map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.read()
	if err != nil {
		return nil, err
	}
	if len(update) == 0 {
		return state, nil
	}

	for k, v := range update {
		state[k] = v
	}
	if err := s.write(state); err != nil {
		return nil, err
	}
	return state, nil
}

// Read decodes the typed view
func (s *StateFile) Read() (*Deployment, error) {
	state, err := s.ReadOrUpdate(nil)
	if err != nil {
		return nil, err
	}
	return decodeDeployment(state)
}

// Save merges d into the file
func (s *StateFile) Save(d *Deployment) error {
	d.UpdatedAt = time.Now().UTC()
	update, err := toMap(d)
	if err != nil {
		return err
	}
	_, err = s.ReadOrUpdate(update)
	return err
}

func (s *StateFile) read() (map[string]any, error) {
	state := make(map[string]any)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &state); err != nil || state == nil {
		return make(map[string]any), nil
	}
	return state, nil
}

// write replaces the file atomically
func (s *StateFile) write(state map[string]any) error {
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".deployed-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeDeployment(state map[string]any) (*Deployment, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	var d Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("invalid deployment state: %w", err)
	}
	if d.SetupStatus == "" {
		d.SetupStatus = access.StatusNone
	}
	return &d, nil
}
