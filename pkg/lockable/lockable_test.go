// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lockable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frozen/pkg/capability"
	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/freezable"
	"github.com/AleutianAI/frozen/pkg/lockable"
	"github.com/AleutianAI/frozen/pkg/registry"
)

// =============================================================================
// Fixtures
// =============================================================================

type Account struct {
	compose.Entity
	Balance int
}

func (a *Account) Withdraw(ctx context.Context, n int) error {
	if err := compose.Guard(ctx, a, "Withdraw"); err != nil {
		return err
	}
	a.Balance -= n
	return nil
}

func (a *Account) Close(ctx context.Context) error {
	return compose.Guard(ctx, a, "Close")
}

func (a *Account) SelfLock(ctx context.Context, key string) error {
	return lockable.Lock(ctx, a, key)
}

type Savings struct {
	Account
}

type Admin struct{ name string }

func (ad *Admin) Lock(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Lock(ctx, x, key)
}

func (ad *Admin) Unlock(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Unlock(ctx, x, key)
}

type SuperAdmin struct{ Admin }

func (s *SuperAdmin) Override(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Lock(ctx, x, key)
}

type Guest struct{ name string }

func (g *Guest) Lock(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Lock(ctx, x, key)
}

func (g *Guest) Unlock(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Unlock(ctx, x, key)
}

type Auditor struct{ name string }

func (au *Auditor) Lock(ctx context.Context, x compose.Instance, key string) error {
	return lockable.Lock(ctx, x, key)
}

type bank struct {
	reg      *registry.Registry
	admin    *registry.Class
	guest    *registry.Class
	auditor  *registry.Class
	accounts *compose.Type[Account, *Account]
}

func newBank(t *testing.T) bank {
	t.Helper()
	reg := registry.New()
	b := bank{
		reg:     reg,
		admin:   registry.MustRegister[Admin](reg),
		guest:   registry.MustRegister[Guest](reg),
		auditor: registry.MustRegister[Auditor](reg),
	}
	registry.MustRegister[SuperAdmin](reg)

	accounts, err := compose.Define[Account](reg).
		Methods(
			lockable.Method("Withdraw", "admin"),
			lockable.Method("Close", "admin", "closing"),
		).
		Build(lockable.New(
			lockable.LockKey("admin", b.admin),
			lockable.LockKey("open"),
		))
	require.NoError(t, err)
	b.accounts = accounts
	return b
}

// =============================================================================
// Tests
// =============================================================================

func TestLock_AdminGuestScenario(t *testing.T) {
	b := newBank(t)
	ctx := context.Background()
	acct := b.accounts.MustNew(compose.Args{})
	admin, guest := &Admin{}, &Guest{}

	require.NoError(t, acct.Withdraw(ctx, 1))

	err := guest.Lock(ctx, acct, "admin")
	require.ErrorIs(t, err, compose.ErrLockDenied)
	var authErr *compose.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Same(t, b.guest, authErr.Caller)
	assert.Equal(t, "admin", authErr.Key)

	require.NoError(t, admin.Lock(ctx, acct, "admin"))
	locked, err := lockable.Locked(acct, "admin")
	require.NoError(t, err)
	assert.True(t, locked)

	err = acct.Withdraw(ctx, 1)
	require.ErrorIs(t, err, compose.ErrLocked)
	var stErr *compose.StateError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "admin", stErr.Key)
	assert.Equal(t, "Withdraw", stErr.Method)
	assert.Equal(t, -1, acct.Balance)

	assert.ErrorIs(t, guest.Unlock(ctx, acct, "admin"), compose.ErrUnlockDenied)
	require.NoError(t, admin.Unlock(ctx, acct, "admin"))
	require.NoError(t, acct.Withdraw(ctx, 1))
	assert.Equal(t, -2, acct.Balance)

	require.NoError(t, admin.Unlock(ctx, acct, "admin"), "unlocking an unlocked key is allowed")
}

func TestLock_EmbeddingCallerAllowed(t *testing.T) {
	b := newBank(t)
	acct := b.accounts.MustNew(compose.Args{})
	require.NoError(t, (&SuperAdmin{}).Override(context.Background(), acct, "admin"))
	locked, err := lockable.Locked(acct, "admin")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestLock_ComposedTypeMayUseItsKeys(t *testing.T) {
	b := newBank(t)
	acct := b.accounts.MustNew(compose.Args{})
	require.NoError(t, acct.SelfLock(context.Background(), "admin"))
}

func TestLock_UnclassifiedCallerDenied(t *testing.T) {
	b := newBank(t)
	ctx := context.Background()
	acct := b.accounts.MustNew(compose.Args{})

	err := lockable.Lock(ctx, acct, "admin")
	var authErr *compose.AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Nil(t, authErr.Caller)
	assert.Contains(t, err.Error(), "none")

	require.NoError(t, lockable.Lock(ctx, acct, "open"), "keys without classes are unrestricted")
	require.NoError(t, lockable.Lock(ctx, acct, "closing"), "method keys are unrestricted")
	assert.ErrorIs(t, acct.Close(ctx), compose.ErrLocked)
}

func TestLock_ExplicitCaller(t *testing.T) {
	b := newBank(t)
	acct := b.accounts.MustNew(compose.Args{})

	ctx := capability.WithCaller(context.Background(), b.admin)
	require.NoError(t, lockable.Lock(ctx, acct, "admin"))

	ctx = capability.WithCaller(context.Background(), b.guest)
	assert.ErrorIs(t, lockable.Unlock(ctx, acct, "admin"), compose.ErrUnlockDenied)
}

func TestLock_UnknownKey(t *testing.T) {
	b := newBank(t)
	ctx := context.Background()
	acct := b.accounts.MustNew(compose.Args{})

	assert.ErrorIs(t, lockable.Lock(ctx, acct, "vault"), compose.ErrLookup)
	assert.ErrorIs(t, lockable.Unlock(ctx, acct, "vault"), compose.ErrLookup)
	_, err := lockable.Locked(acct, "vault")
	assert.ErrorIs(t, err, compose.ErrLookup)
}

func TestLock_GuardNamesFirstKeyInOrder(t *testing.T) {
	b := newBank(t)
	ctx := capability.WithCaller(context.Background(), b.admin)
	acct := b.accounts.MustNew(compose.Kw("locks", []string{"closing", "admin"}))

	err := acct.Close(ctx)
	var stErr *compose.StateError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "admin", stErr.Key)

	require.NoError(t, lockable.Unlock(ctx, acct, "admin"))
	require.ErrorAs(t, acct.Close(ctx), &stErr)
	assert.Equal(t, "closing", stErr.Key)
}

func TestLoad_Locks(t *testing.T) {
	b := newBank(t)

	acct := b.accounts.MustNew(compose.Kw("locks", []string{"admin"}))
	held, err := lockable.Held(acct)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, held)

	_, err = b.accounts.New(compose.Kw("locks", []string{"vault"}))
	assert.ErrorIs(t, err, compose.ErrLookup)

	_, err = b.accounts.New(compose.Kw("locks", "admin"))
	assert.ErrorIs(t, err, compose.ErrUsage)

	keys, err := lockable.Keys(acct)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "closing", "open"}, keys)
}

func TestValidate_NoKeys(t *testing.T) {
	_, err := compose.Define[Account](registry.New()).Build(lockable.New())
	assert.ErrorIs(t, err, compose.ErrConfiguration)
}

func TestBind_MethodWithoutKeys(t *testing.T) {
	_, err := compose.Define[Account](registry.New()).
		Methods(lockable.Method("Withdraw")).
		Build(lockable.New(lockable.LockKey("open")))
	assert.ErrorIs(t, err, compose.ErrUsage)
}

func TestUnlockKey_SeparatePermissions(t *testing.T) {
	reg := registry.New()
	admin := registry.MustRegister[Admin](reg)
	auditor := registry.MustRegister[Auditor](reg)

	typ, err := compose.Define[Account](reg).Build(lockable.New(
		lockable.LockKey("admin", admin),
		lockable.UnlockKey("admin", auditor),
	))
	require.NoError(t, err)

	a, ok := lockable.Of(typ.MustNew(compose.Args{}))
	require.True(t, ok)
	assert.True(t, a.LockSet("admin").Allows(admin))
	assert.False(t, a.LockSet("admin").Allows(auditor))
	assert.True(t, a.UnlockSet("admin").Allows(auditor))
	assert.False(t, a.UnlockSet("admin").Allows(admin))
	assert.True(t, a.UnlockSet("admin").Allows(typ.Class()), "the composed type joins restricted keys")
}

func TestMerge_RedeclarationUnionsPermissions(t *testing.T) {
	reg := registry.New()
	admin := registry.MustRegister[Admin](reg)
	auditor := registry.MustRegister[Auditor](reg)
	ctx := context.Background()

	_, err := compose.Define[Account](reg).
		Methods(lockable.Method("Withdraw", "admin")).
		Build(lockable.New(lockable.LockKey("admin", admin)))
	require.NoError(t, err)

	child := lockable.New(lockable.LockKey("admin", auditor), lockable.LockKey("savings"))
	savings, err := compose.Define[Savings](reg).Build(child)
	require.NoError(t, err)

	assert.True(t, child.LockSet("admin").Allows(admin))
	assert.True(t, child.LockSet("admin").Allows(auditor))
	assert.Equal(t, []string{"admin", "savings"}, child.Keys())
	assert.Equal(t, []string{"admin"}, child.MethodKeys("Withdraw"))

	s := savings.MustNew(compose.Args{})
	require.NoError(t, (&Auditor{}).Lock(ctx, s, "admin"))
	assert.ErrorIs(t, s.Withdraw(ctx, 1), compose.ErrLocked)

	accountClass, ok := reg.LookupOf(Account{})
	require.True(t, ok)
	acct, ok := compose.WrapperOf(accountClass)
	require.True(t, ok)
	parent, _ := acct.Layer(lockable.Kind)
	assert.False(t, parent.(*lockable.Aspect).LockSet("admin").Allows(auditor), "the ancestor is unchanged")
}

func TestViews_SnapshotLocks(t *testing.T) {
	b := newBank(t)
	ctx := capability.WithCaller(context.Background(), b.admin)
	acct := b.accounts.MustNew(compose.Args{})
	require.NoError(t, lockable.Lock(ctx, acct, "admin"))

	ve, err := compose.NewViewEntity(acct)
	require.NoError(t, err)

	require.NoError(t, lockable.Unlock(ctx, acct, "admin"))
	require.NoError(t, lockable.Lock(ctx, acct, "open"))

	locked, err := lockable.Locked(ve, "admin")
	require.NoError(t, err)
	assert.True(t, locked, "locks held at view time stay")
	locked, err = lockable.Locked(ve, "open")
	require.NoError(t, err)
	assert.True(t, locked, "live locks show through")

	held, err := lockable.Held(ve)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "open"}, held)

	err = b.accounts.Wrapper().Guard(ctx, ve, "Withdraw")
	assert.ErrorIs(t, err, compose.ErrLocked)
	assert.NoError(t, acct.Withdraw(ctx, 1))

	assert.ErrorIs(t, lockable.Lock(ctx, ve, "open"), compose.ErrViewImmutable)
	assert.ErrorIs(t, lockable.Unlock(ctx, ve, "open"), compose.ErrViewImmutable)
}

func TestCopy_IndependentLocks(t *testing.T) {
	b := newBank(t)
	ctx := capability.WithCaller(context.Background(), b.admin)
	acct := b.accounts.MustNew(compose.Kw("locks", []string{"admin"}))

	dup, err := compose.Clone(acct, false)
	require.NoError(t, err)
	require.NoError(t, lockable.Unlock(ctx, dup, "admin"))

	locked, err := lockable.Locked(acct, "admin")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestStacking_FreezeAndLock(t *testing.T) {
	reg := registry.New()
	admin := registry.MustRegister[Admin](reg)
	ctx := capability.WithCaller(context.Background(), admin)

	typ, err := compose.Define[Account](reg).
		Methods(freezable.Method("Withdraw")...).
		Methods(lockable.Method("Withdraw", "admin")).
		Build(
			freezable.New(freezable.LetMelt(true)),
			lockable.New(lockable.LockKey("admin", admin)),
		)
	require.NoError(t, err)

	acct := typ.MustNew(compose.Kw("frozen", true, "locks", []string{"admin"}))
	for range 3 {
		assert.ErrorIs(t, acct.Withdraw(ctx, 1), compose.ErrFrozen, "outer layer decides first")
	}

	require.NoError(t, freezable.Melt(ctx, acct, false))
	assert.ErrorIs(t, acct.Withdraw(ctx, 1), compose.ErrLocked)

	require.NoError(t, lockable.Unlock(ctx, acct, "admin"))
	require.NoError(t, acct.Withdraw(ctx, 1))

	// The freezable mutators and the lockable mutators see the same instance.
	require.NoError(t, freezable.Freeze(ctx, acct, false))
	require.NoError(t, lockable.Lock(ctx, acct, "admin"))
	err = acct.Withdraw(ctx, 1)
	assert.True(t, errors.Is(err, compose.ErrFrozen))
	assert.False(t, errors.Is(err, compose.ErrLocked))
}

func TestNotLockable(t *testing.T) {
	reg := registry.New()
	typ, err := compose.Define[Account](reg).Build(freezable.New())
	require.NoError(t, err)
	acct := typ.MustNew(compose.Args{})

	assert.ErrorIs(t, lockable.Lock(context.Background(), acct, "admin"), compose.ErrUsage)
	_, err = lockable.Locked(acct, "admin")
	assert.ErrorIs(t, err, compose.ErrUsage)
	_, err = lockable.Keys(acct)
	assert.ErrorIs(t, err, compose.ErrUsage)
}
