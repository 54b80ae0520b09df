package deploy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/access"
	"github.com/wonny/otcseller/internal/registry"
	"github.com/wonny/otcseller/internal/sellerconfig"
	"github.com/wonny/otcseller/pkg/logger"
)

// Environment is the in-memory seller assembled from a state file
type Environment struct {
	Deployment *Deployment
	Roles      *access.Control
	Setup      *access.Setup
	Registry   *registry.Registry
}

// Restore rebuilds roles, lifecycle and pairs from a saved deployment
func Restore(d *Deployment) (*Environment, error) {
	if !d.Deployed() {
		return nil, fmt.Errorf("not deployed (status %s): %w", d.SetupStatus, access.ErrSetupState)
	}

	roles := access.Restore(d.Roles)
	setup := access.RestoreSetup(roles, access.SetupState{
		Status:   d.SetupStatus,
		Deployer: d.Deployer,
		Agent:    d.Agent,
	})

	file := &sellerconfig.File{Pairs: d.Pairs}
	pairs, err := file.PairConfigs(d.Seller)
	if err != nil {
		return nil, fmt.Errorf("invalid saved pairs: %w", err)
	}
	reg := registry.New(roles)
	if err := reg.Restore(pairs); err != nil {
		return nil, err
	}

	return &Environment{Deployment: d, Roles: roles, Setup: setup, Registry: reg}, nil
}

// Load reads and restores in one step
func Load(sf *StateFile) (*Environment, error) {
	d, err := sf.Read()
	if err != nil {
		return nil, err
	}
	return Restore(d)
}

// Persist writes the current roles, lifecycle and pairs back
func (e *Environment) Persist(sf *StateFile) error {
	state := e.Setup.State()
	e.Deployment.SetupStatus = state.Status
	e.Deployment.Deployer = state.Deployer
	e.Deployment.Agent = state.Agent
	e.Deployment.Roles = e.Roles.Snapshot()

	pairs := e.Registry.Pairs()
	e.Deployment.Pairs = make([]sellerconfig.Pair, 0, len(pairs))
	for _, p := range pairs {
		e.Deployment.Pairs = append(e.Deployment.Pairs, sellerconfig.FromPairConfig(p))
	}
	return sf.Save(e.Deployment)
}

// Params are the inputs of a fresh deployment
type Params struct {
	Network  string
	Deployer common.Address
	Agent    common.Address
	Seller   common.Address
	Config   *sellerconfig.File
}

// Deploy grants roles, registers the configured pairs and records the result.
// An existing deployment is reused.
func Deploy(sf *StateFile, p Params, log *logger.Logger) (*Environment, error) {
	d, err := sf.Read()
	if err != nil {
		return nil, err
	}
	if d.Deployed() {
		log.WithField("status", d.SetupStatus).
			WithField("seller", d.Seller.Hex()).
			Warn("Seller already deployed, reusing state")
		return Restore(d)
	}

	if p.Config == nil {
		p.Config = sellerconfig.Default()
	}
	pairs, err := p.Config.PairConfigs(p.Seller)
	if err != nil {
		return nil, err
	}
	hash, err := sellerconfig.Hash(p.Config)
	if err != nil {
		return nil, err
	}

	roles := access.New()
	setup := access.NewSetup(roles)
	if err := setup.Deploy(p.Deployer, p.Agent); err != nil {
		return nil, err
	}
	reg := registry.New(roles)
	for _, pair := range pairs {
		if err := reg.CreateSeller(p.Deployer, pair); err != nil {
			return nil, fmt.Errorf("failed to create seller %s: %w", pair.Key(), err)
		}
	}

	env := &Environment{
		Deployment: &Deployment{
			Network:    p.Network,
			Seller:     p.Seller,
			ConfigHash: hash,
		},
		Roles:    roles,
		Setup:    setup,
		Registry: reg,
	}
	if err := env.Persist(sf); err != nil {
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"network":  p.Network,
		"seller":   p.Seller.Hex(),
		"agent":    p.Agent.Hex(),
		"pairs":    len(pairs),
		"config":   hash,
		"state":    sf.Path(),
		"deployer": p.Deployer.Hex(),
	}).Info("Seller deployed")
	return env, nil
}

// Finalize revokes the deployer's roles and records the new status
func Finalize(sf *StateFile, caller common.Address, log *logger.Logger) (*Environment, error) {
	env, err := Load(sf)
	if err != nil {
		return nil, err
	}
	if err := env.Setup.Finalize(caller); err != nil {
		return nil, err
	}
	if err := env.Persist(sf); err != nil {
		return nil, err
	}
	log.WithField("agent", env.Deployment.Agent.Hex()).Info("Seller finalized")
	return env, nil
}

// Update loads the environment, applies mutate and saves the result.
// Nothing is written when mutate fails.
func Update(sf *StateFile, mutate func(env *Environment) error) (*Environment, error) {
	env, err := Load(sf)
	if err != nil {
		return nil, err
	}
	if err := mutate(env); err != nil {
		return nil, err
	}
	if err := env.Persist(sf); err != nil {
		return nil, err
	}
	return env, nil
}

// Check verifies the saved role table against the saved lifecycle status
func Check(sf *StateFile) (*Environment, error) {
	env, err := Load(sf)
	if err != nil {
		return nil, err
	}
	if err := env.Setup.Check(); err != nil {
		return env, err
	}
	return env, nil
}
