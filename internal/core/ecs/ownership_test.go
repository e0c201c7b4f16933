package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SetOwner_RecordsOwnerAndDestroyingOwnerCascades(t *testing.T) {
	// Arrange
	store := NewEntityStore()
	owner := store.CreateEntity()
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)

	// Act
	err = SetOwner(store, childComp, owner)
	require.NoError(t, err)

	// Assert
	gotOwner, ok := childComp.Owner()
	require.True(t, ok)
	assert.Equal(t, owner.ownableKey(), gotOwner.ownableKey())

	owner.Destroy()
	assert.False(t, childComp.IsAlive())
}

func Test_SetOwner_DetachesFromPreviousOwner(t *testing.T) {
	store := NewEntityStore()
	firstOwner := store.CreateEntity()
	secondOwner := store.CreateEntity()
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)

	require.NoError(t, SetOwner(store, childComp, firstOwner))
	require.NoError(t, SetOwner(store, childComp, secondOwner))

	firstOwner.Destroy()
	assert.True(t, childComp.IsAlive(), "child should no longer cascade from its former owner")

	secondOwner.Destroy()
	assert.False(t, childComp.IsAlive())
}

func Test_ClearOwner_DetachesWithoutDestroying(t *testing.T) {
	store := NewEntityStore()
	owner := store.CreateEntity()
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)
	require.NoError(t, SetOwner(store, childComp, owner))

	store.ownership.ClearOwner(childComp)

	_, ok := childComp.Owner()
	assert.False(t, ok)
	owner.Destroy()
	assert.True(t, childComp.IsAlive())
}

func Test_Destroy_CascadesThroughGrandchildren(t *testing.T) {
	store := NewEntityStore()
	grandparent := store.CreateEntity()
	parent := store.CreateEntity()
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)

	require.NoError(t, SetOwner(store, parent, grandparent))
	require.NoError(t, SetOwner(store, childComp, parent))

	grandparent.Destroy()

	assert.False(t, parent.IsAlive())
	assert.False(t, childComp.IsAlive())
}

func Test_Destroy_BreaksCyclesInsteadOfLooping(t *testing.T) {
	store := NewEntityStore()
	a := store.CreateEntity()
	b := store.CreateEntity()

	require.NoError(t, SetOwner(store, b, a))
	require.NoError(t, SetOwner(store, a, b))

	a.Destroy()

	assert.False(t, a.IsAlive())
	assert.False(t, b.IsAlive())
}

type delegatingOwner struct {
	Entity
	delegateTo *Entity
	declines   int
}

func (d *delegatingOwner) DelegateOwner(candidate Ownable) (Ownable, bool) {
	if d.delegateTo == nil {
		return nil, false
	}
	return *d.delegateTo, true
}

func Test_SetOwner_DelegateDeclineHandsOffToNominee(t *testing.T) {
	store := NewEntityStore()
	real := store.CreateEntity()
	declining := &delegatingOwner{Entity: store.CreateEntity(), delegateTo: &real}
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)

	require.NoError(t, SetOwner(store, childComp, declining))

	gotOwner, ok := childComp.Owner()
	require.True(t, ok)
	assert.Equal(t, real.ownableKey(), gotOwner.ownableKey())
}

type alwaysDecliningOwner struct {
	Entity
}

func (a alwaysDecliningOwner) DelegateOwner(candidate Ownable) (Ownable, bool) {
	return a, true
}

func Test_SetOwner_ExceedingDelegateDepthFails(t *testing.T) {
	store := NewEntityStore()
	stubborn := alwaysDecliningOwner{Entity: store.CreateEntity()}
	child := store.CreateEntity()
	childComp, err := AddComponent(store, child, &posComponent{})
	require.NoError(t, err)

	err = SetOwner(store, childComp, stubborn)

	require.Error(t, err)
	assert.True(t, IsCode(err, ErrInvalidArgument))
}
