// Package access gates seller entry points by role.
package access

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Control is an explicit role → holders table
// ⭐ SSOT: every permission check goes through Require
type Control struct {
	mu      sync.RWMutex
	holders map[contracts.Role]map[common.Address]struct{}
}

// New creates an empty role table
func New() *Control {
	c := &Control{holders: make(map[contracts.Role]map[common.Address]struct{})}
	for _, r := range contracts.AllRoles {
		c.holders[r] = make(map[common.Address]struct{})
	}
	return c
}

// HasRole reports whether account holds role
func (c *Control) HasRole(role contracts.Role, account common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.holders[role][account]
	return ok
}

// Require succeeds when caller holds any of roles
func (c *Control) Require(caller common.Address, roles ...contracts.Role) error {
	for _, r := range roles {
		if c.HasRole(r, caller) {
			return nil
		}
	}
	return fmt.Errorf("%s lacks %v: %w", caller.Hex(), roles, contracts.ErrUnauthorized)
}

// Grant gives role to account; caller must be an admin
func (c *Control) Grant(caller common.Address, role contracts.Role, account common.Address) error {
	if err := c.Require(caller, contracts.RoleDefaultAdmin); err != nil {
		return err
	}
	c.grant(role, account)
	return nil
}

// Revoke removes role from account; caller must be an admin
func (c *Control) Revoke(caller common.Address, role contracts.Role, account common.Address) error {
	if err := c.Require(caller, contracts.RoleDefaultAdmin); err != nil {
		return err
	}
	c.revoke(role, account)
	return nil
}

func (c *Control) grant(role contracts.Role, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holders[role][account] = struct{}{}
}

func (c *Control) revoke(role contracts.Role, account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.holders[role], account)
}

// Holders lists the holders of role in address order
func (c *Control) Holders(role contracts.Role) []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]common.Address, 0, len(c.holders[role]))
	for a := range c.holders[role] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Snapshot copies the table for persistence
func (c *Control) Snapshot() map[contracts.Role][]common.Address {
	out := make(map[contracts.Role][]common.Address, len(contracts.AllRoles))
	for _, r := range contracts.AllRoles {
		out[r] = c.Holders(r)
	}
	return out
}

// Restore builds a table from a snapshot
func Restore(snapshot map[contracts.Role][]common.Address) *Control {
	c := New()
	for role, holders := range snapshot {
		if _, ok := c.holders[role]; !ok {
			continue
		}
		for _, h := range holders {
			c.grant(role, h)
		}
	}
	return c
}
