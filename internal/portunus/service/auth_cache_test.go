package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Gostdragon/IoT-Door-Control-System/internal/portunus/service"
)

func TestAuthCache_ReconcileAppliesSymmetricDifference(t *testing.T) {
	c := service.NewAuthCache()

	added, removed := c.Reconcile(tokens("tok1", "tok2"))
	assert.Equal(t, 2, added)
	assert.Equal(t, 0, removed)

	added, removed = c.Reconcile(tokens("tok2", "tok3"))
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, removed)

	assert.False(t, c.Has("tok1"))
	assert.True(t, c.Has("tok2"))
	assert.True(t, c.Has("tok3"))
	assert.Equal(t, tokens("tok2", "tok3"), c.Snapshot())
}

func TestAuthCache_ReconcileIsIdempotent(t *testing.T) {
	c := service.NewAuthCache()
	c.Reconcile(tokens("tok1", "tok2"))

	added, removed := c.Reconcile(tokens("tok2", "tok1"))
	assert.Zero(t, added)
	assert.Zero(t, removed)
	assert.Equal(t, 2, c.Len())
}

func TestAuthCache_ReconcileCollapsesDuplicates(t *testing.T) {
	c := service.NewAuthCache()
	added, _ := c.Reconcile(tokens("tok1", "tok1"))
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, c.Len())
}

func TestAuthCache_ReconcileEmptyClears(t *testing.T) {
	c := service.NewAuthCache()
	c.Reconcile(tokens("tok1"))

	_, removed := c.Reconcile(nil)
	assert.Equal(t, 1, removed)
	assert.Zero(t, c.Len())
}
