package config

import (
	"fmt"
	"sync"
)

// ChainNode is one node of a declarative DAG template.
type ChainNode struct {
	ID        string   `yaml:"id" json:"id" validate:"required"`
	Title     string   `yaml:"title" json:"title"`
	Agent     string   `yaml:"agent" json:"agent" validate:"required"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Skippable bool     `yaml:"skippable,omitempty" json:"skippable,omitempty"`
}

// Chain is a declarative DAG template the planning engine instantiates.
type Chain struct {
	ID          string      `yaml:"id" json:"id" validate:"required"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Nodes       []ChainNode `yaml:"nodes" json:"nodes" validate:"required,min=1,dive"`
}

// Validate checks node references and acyclicity.
func (c *Chain) Validate() error {
	ids := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		if ids[n.ID] {
			return fmt.Errorf("chain %s: duplicate node id %q", c.ID, n.ID)
		}
		ids[n.ID] = true
	}
	indegree := make(map[string]int, len(c.Nodes))
	for _, n := range c.Nodes {
		for _, dep := range n.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("chain %s: node %q depends on unknown node %q", c.ID, n.ID, dep)
			}
			indegree[n.ID]++
		}
	}
	// Kahn's algorithm: all nodes must be reachable from the sources.
	var queue []string
	for _, n := range c.Nodes {
		if indegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	deps := make(map[string][]string)
	for _, n := range c.Nodes {
		for _, dep := range n.DependsOn {
			deps[dep] = append(deps[dep], n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range deps[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(c.Nodes) {
		return fmt.Errorf("chain %s: dependency cycle detected", c.ID)
	}
	return nil
}

// ChainRegistry stores chain templates with copy-on-write mutation.
type ChainRegistry struct {
	mu     sync.RWMutex
	chains map[string]*Chain
}

// NewChainRegistry creates a registry seeded with the given chains.
func NewChainRegistry(chains map[string]*Chain) *ChainRegistry {
	copied := make(map[string]*Chain, len(chains))
	for k, v := range chains {
		copied[k] = v
	}
	return &ChainRegistry{chains: copied}
}

// Get retrieves a chain by id.
func (r *ChainRegistry) Get(chainID string) (*Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain, ok := r.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, chainID)
	}
	return chain, nil
}

// List returns all chains.
func (r *ChainRegistry) List() []*Chain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Chain, 0, len(r.chains))
	for _, c := range r.chains {
		out = append(out, c)
	}
	return out
}

// Put validates and installs a chain. Readers keep seeing the previous
// snapshot until the swap completes.
func (r *ChainRegistry) Put(chain *Chain) error {
	if err := chain.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[string]*Chain, len(r.chains)+1)
	for k, v := range r.chains {
		next[k] = v
	}
	next[chain.ID] = chain
	r.chains = next
	return nil
}
