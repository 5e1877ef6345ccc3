// Package acl evaluates app-level access rules over memories.
//
// Rules are allow/deny rows scoped to an app. A rule with a NULL object
// applies to every memory. Evaluation order: with no rules the app is
// unconstrained; a deny-all rule wins over everything; an allow-all rule
// grants everything not explicitly denied; otherwise the grant set is the
// explicitly allowed IDs minus the explicitly denied ones.
package acl

import (
	"context"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/model"
	registrystore "github.com/openmem/openmem/internal/registry/store"
)

// Decision is the evaluated grant set for one app.
type Decision struct {
	// Unconstrained means no rules exist for the app: everything is visible.
	Unconstrained bool
	allowAll      bool
	denyAll       bool
	allowed       map[uuid.UUID]bool
	denied        map[uuid.UUID]bool
}

// Evaluate folds the app's rules into a Decision.
func Evaluate(rules []model.AccessControl) Decision {
	if len(rules) == 0 {
		return Decision{Unconstrained: true}
	}
	d := Decision{
		allowed: map[uuid.UUID]bool{},
		denied:  map[uuid.UUID]bool{},
	}
	for _, r := range rules {
		switch r.Effect {
		case model.EffectAllow:
			if r.ObjectID == nil {
				d.allowAll = true
			} else {
				d.allowed[*r.ObjectID] = true
			}
		case model.EffectDeny:
			if r.ObjectID == nil {
				d.denyAll = true
			} else {
				d.denied[*r.ObjectID] = true
			}
		}
	}
	return d
}

// Allows reports whether the decision grants access to the given memory.
func (d Decision) Allows(id uuid.UUID) bool {
	if d.Unconstrained {
		return true
	}
	if d.denyAll {
		return false
	}
	if d.denied[id] {
		return false
	}
	if d.allowAll {
		return true
	}
	return d.allowed[id]
}

// Filter returns the subset of candidates the decision grants.
func (d Decision) Filter(candidates []uuid.UUID) []uuid.UUID {
	if d.Unconstrained {
		return candidates
	}
	out := make([]uuid.UUID, 0, len(candidates))
	for _, id := range candidates {
		if d.Allows(id) {
			out = append(out, id)
		}
	}
	return out
}

// Evaluator loads and evaluates rules from the metadata store.
type Evaluator struct {
	store registrystore.MetadataStore
}

// NewEvaluator creates an Evaluator backed by the given store.
func NewEvaluator(store registrystore.MetadataStore) *Evaluator {
	return &Evaluator{store: store}
}

// ForApp loads the app's rules and returns the evaluated decision.
func (e *Evaluator) ForApp(ctx context.Context, appID uuid.UUID) (Decision, error) {
	rules, err := e.store.ListAccessRules(ctx, appID)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(rules), nil
}
