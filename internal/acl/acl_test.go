package acl

import (
	"testing"

	"github.com/google/uuid"
	"github.com/openmem/openmem/internal/model"
	"github.com/stretchr/testify/assert"
)

func allowRule(objectID *uuid.UUID) model.AccessControl {
	return model.AccessControl{
		ID:          uuid.New(),
		SubjectType: "app",
		ObjectType:  "memory",
		ObjectID:    objectID,
		Effect:      model.EffectAllow,
	}
}

func denyRule(objectID *uuid.UUID) model.AccessControl {
	r := allowRule(objectID)
	r.Effect = model.EffectDeny
	return r
}

func TestEvaluateNoRulesIsUnconstrained(t *testing.T) {
	d := Evaluate(nil)
	assert.True(t, d.Unconstrained)
	assert.True(t, d.Allows(uuid.New()))

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	assert.Equal(t, ids, d.Filter(ids))
}

func TestEvaluateAllowAll(t *testing.T) {
	mem := uuid.New()
	d := Evaluate([]model.AccessControl{allowRule(nil)})
	assert.False(t, d.Unconstrained)
	assert.True(t, d.Allows(mem))
}

func TestEvaluateDenyAllWins(t *testing.T) {
	mem := uuid.New()
	d := Evaluate([]model.AccessControl{
		allowRule(nil),
		allowRule(&mem),
		denyRule(nil),
	})
	assert.False(t, d.Allows(mem))
	assert.Empty(t, d.Filter([]uuid.UUID{mem, uuid.New()}))
}

func TestEvaluateAllowedMinusDenied(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	d := Evaluate([]model.AccessControl{
		allowRule(&a),
		allowRule(&b),
		denyRule(&b),
	})
	assert.True(t, d.Allows(a))
	assert.False(t, d.Allows(b))
	assert.False(t, d.Allows(c), "not explicitly allowed")
	assert.Equal(t, []uuid.UUID{a}, d.Filter([]uuid.UUID{a, b, c}))
}

func TestEvaluateAllowAllWithSpecificDeny(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	d := Evaluate([]model.AccessControl{
		allowRule(nil),
		denyRule(&b),
	})
	assert.True(t, d.Allows(a))
	assert.False(t, d.Allows(b))
}
