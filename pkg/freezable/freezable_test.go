// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package freezable_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/frozen/pkg/compose"
	"github.com/AleutianAI/frozen/pkg/freezable"
	"github.com/AleutianAI/frozen/pkg/registry"
)

type Account struct {
	compose.Entity
	Balance int
	Child   *Account
	Note    *Memo
}

func (a *Account) Deposit(ctx context.Context, n int) error {
	if err := compose.Guard(ctx, a, "Deposit"); err != nil {
		return err
	}
	a.Balance += n
	return nil
}

func (a *Account) Peek() int { return a.Balance }

// Memo is composed without freezable.
type Memo struct {
	compose.Entity
	Inner *Account
}

type Savings struct {
	Account
}

func (s *Savings) Accrue(ctx context.Context) error {
	return compose.Guard(ctx, s, "Accrue")
}

type fixture struct {
	reg      *registry.Registry
	accounts *compose.Type[Account, *Account]
	memos    *compose.Type[Memo, *Memo]
}

func newFixture(t *testing.T, opts ...freezable.Option) fixture {
	t.Helper()
	reg := registry.New()
	accounts, err := compose.Define[Account](reg).
		Methods(freezable.Method("Deposit")...).
		Build(freezable.New(opts...))
	require.NoError(t, err)
	memos, err := compose.Define[Memo](reg).Build(&noop{})
	require.NoError(t, err)
	return fixture{reg: reg, accounts: accounts, memos: memos}
}

// noop is an aspect with no behavior, for composing non-freezable types.
type noop struct{ _ int }

func (*noop) Kind() string                                         { return "noop" }
func (*noop) Signature() compose.Signature                         { return compose.Signature{} }
func (*noop) Validate() error                                      { return nil }
func (*noop) Merge(compose.Aspect) error                           { return nil }
func (*noop) Bind(*compose.Wrapper, []compose.MethodSpec) error    { return nil }
func (*noop) Load(*compose.Entity, compose.Args) error             { return nil }
func (*noop) Guard(context.Context, *compose.Entity, string) error { return nil }
func (*noop) ViewState(*compose.Entity) any                        { return nil }
func (*noop) CopyState(any) any                                    { return nil }

func TestLoad_FrozenArgument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := f.accounts.MustNew(compose.Args{})
	assert.False(t, freezable.Frozen(open))
	require.NoError(t, open.Deposit(ctx, 5))

	closed := f.accounts.MustNew(compose.Kw("frozen", true))
	assert.True(t, freezable.Frozen(closed))
	err := closed.Deposit(ctx, 5)
	assert.ErrorIs(t, err, compose.ErrFrozen)
	assert.ErrorIs(t, err, compose.ErrState)
	assert.Contains(t, err.Error(), "Deposit")
	assert.Equal(t, 0, closed.Balance)
	assert.Equal(t, 0, closed.Peek(), "unguarded methods still work")

	_, err = f.accounts.New(compose.Kw("frozen", "yes"))
	assert.ErrorIs(t, err, compose.ErrUsage)
}

func TestFreezeMelt_LetFlags(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults", func(t *testing.T) {
		f := newFixture(t)
		a := f.accounts.MustNew(compose.Args{})
		require.NoError(t, freezable.Freeze(ctx, a, false))
		assert.True(t, freezable.Frozen(a))

		err := freezable.Melt(ctx, a, false)
		assert.ErrorIs(t, err, compose.ErrNotCallable)
		assert.ErrorIs(t, err, compose.ErrAuthorization)
		assert.True(t, freezable.Frozen(a))
	})

	t.Run("let melt", func(t *testing.T) {
		f := newFixture(t, freezable.LetMelt(true))
		a := f.accounts.MustNew(compose.Kw("frozen", true))
		require.NoError(t, freezable.Melt(ctx, a, false))
		assert.False(t, freezable.Frozen(a))
		require.NoError(t, a.Deposit(ctx, 1))
	})

	t.Run("no freeze", func(t *testing.T) {
		f := newFixture(t, freezable.LetFreeze(false))
		a := f.accounts.MustNew(compose.Args{})
		assert.ErrorIs(t, freezable.Freeze(ctx, a, false), compose.ErrNotCallable)
		assert.False(t, freezable.Frozen(a))
	})
}

func TestFreeze_NotFreezable(t *testing.T) {
	f := newFixture(t)
	m := f.memos.MustNew(compose.Args{})
	assert.ErrorIs(t, freezable.Freeze(context.Background(), m, false), compose.ErrUsage)
	assert.False(t, freezable.Frozen(m))
}

func TestFreeze_DeepVisitsOnlyThroughFreezable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	root := f.accounts.MustNew(compose.Args{})
	child := f.accounts.MustNew(compose.Args{})
	grandchild := f.accounts.MustNew(compose.Args{})
	behindMemo := f.accounts.MustNew(compose.Args{})
	memo := f.memos.MustNew(compose.Args{})

	root.Child = child
	child.Child = grandchild
	root.Note = memo
	memo.Inner = behindMemo

	require.NoError(t, freezable.Freeze(ctx, root, true))
	assert.True(t, freezable.Frozen(root))
	assert.True(t, freezable.Frozen(child))
	assert.True(t, freezable.Frozen(grandchild))
	assert.False(t, freezable.Frozen(behindMemo), "children of non-freezable instances are not visited")

	shallow := f.accounts.MustNew(compose.Args{})
	shallow.Child = f.accounts.MustNew(compose.Args{})
	require.NoError(t, freezable.Freeze(ctx, shallow, false))
	assert.False(t, freezable.Frozen(shallow.Child))
}

func TestCopy_FrozenScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original := f.accounts.MustNew(compose.Kw("frozen", true))
	original.Child = f.accounts.MustNew(compose.Kw("frozen", true))
	require.ErrorIs(t, original.Deposit(ctx, 1), compose.ErrFrozen)

	// A copy keeps the frozen state unless told otherwise.
	same, err := freezable.Copy(original)
	require.NoError(t, err)
	assert.True(t, freezable.Frozen(same))

	melted, err := freezable.Copy(original, freezable.WithFrozen(false))
	require.NoError(t, err)
	assert.False(t, freezable.Frozen(melted))
	assert.False(t, freezable.Frozen(melted.Child))
	require.NoError(t, melted.Deposit(ctx, 7))
	assert.Equal(t, 7, melted.Balance)

	assert.True(t, freezable.Frozen(original))
	assert.True(t, freezable.Frozen(original.Child))
	assert.Equal(t, 0, original.Balance)
	assert.NotSame(t, original.Child, melted.Child)

	shallow, err := freezable.Copy(original, freezable.Deep(false), freezable.WithFrozen(false))
	require.NoError(t, err)
	assert.False(t, freezable.Frozen(shallow))
	assert.Same(t, original.Child, shallow.Child)
	assert.True(t, freezable.Frozen(shallow.Child))
}

// Wallet holds an Account by value.
type Wallet struct {
	compose.Entity
	Main Account
}

func TestCopy_InstanceHeldByValue(t *testing.T) {
	f := newFixture(t, freezable.LetMelt(true))
	wallets, err := compose.Define[Wallet](f.reg).Build(freezable.New())
	require.NoError(t, err)

	w := wallets.MustNew(compose.Kw("frozen", true))
	require.NoError(t, f.accounts.Construct(&w.Main, compose.Kw("frozen", true)))

	melted, err := freezable.Copy(w, freezable.WithFrozen(false))
	require.NoError(t, err)
	assert.False(t, freezable.Frozen(melted))
	assert.False(t, freezable.Frozen(&melted.Main))
	assert.NotEqual(t, w.Main.ID(), melted.Main.ID())
	assert.True(t, freezable.Frozen(w))
	assert.True(t, freezable.Frozen(&w.Main), "source keeps its nested state")

	shallow, err := freezable.Copy(w, freezable.Deep(false))
	require.NoError(t, err)
	assert.NotEqual(t, w.Main.ID(), shallow.Main.ID())
	require.NoError(t, freezable.Melt(context.Background(), &shallow.Main, false))
	assert.False(t, freezable.Frozen(&shallow.Main))
	assert.True(t, freezable.Frozen(&w.Main))
}

func TestConstruct_BadFrozenArgumentCanRetry(t *testing.T) {
	f := newFixture(t)

	var a Account
	err := f.accounts.Construct(&a, compose.Kw("frozen", "yes"))
	require.ErrorIs(t, err, compose.ErrUsage)
	assert.False(t, a.Constructed())
	assert.ErrorIs(t, a.Deposit(context.Background(), 1), compose.ErrUsage)

	require.NoError(t, f.accounts.Construct(&a, compose.Kw("frozen", true)))
	assert.True(t, freezable.Frozen(&a))
}

func TestCopy_Errors(t *testing.T) {
	f := newFixture(t)
	_, err := freezable.Copy(f.memos.MustNew(compose.Args{}))
	assert.ErrorIs(t, err, compose.ErrUsage)

	_, err = freezable.Copy(&Account{})
	assert.Error(t, err)
}

func TestViews_AlwaysFrozen(t *testing.T) {
	f := newFixture(t, freezable.LetMelt(true))
	a := f.accounts.MustNew(compose.Args{})

	ve, err := compose.NewViewEntity(a)
	require.NoError(t, err)
	assert.True(t, freezable.Frozen(ve))

	err = f.accounts.Wrapper().Layers()[0].Guard(context.Background(), ve, "Deposit")
	assert.ErrorIs(t, err, compose.ErrFrozen)
	assert.False(t, freezable.Frozen(a))
}

func TestMerge_SubtypeKeepsGuardedMethods(t *testing.T) {
	reg := registry.New()
	ctx := context.Background()
	_, err := compose.Define[Account](reg).
		Methods(freezable.Method("Deposit")...).
		Build(freezable.New())
	require.NoError(t, err)

	child := freezable.New(freezable.LetMelt(true))
	savings, err := compose.Define[Savings](reg).
		Methods(freezable.Method("Accrue")...).
		Build(child)
	require.NoError(t, err)

	assert.True(t, child.Guarded("Deposit"))
	assert.True(t, child.Guarded("Accrue"))
	assert.True(t, child.LetsMelt())

	s := savings.MustNew(compose.Kw("frozen", true))
	assert.ErrorIs(t, s.Accrue(ctx), compose.ErrFrozen)
	assert.ErrorIs(t, s.Deposit(ctx, 1), compose.ErrFrozen)
	require.NoError(t, freezable.Melt(ctx, s, false))
	assert.NoError(t, s.Accrue(ctx))
}

func TestFreeze_RejectsViews(t *testing.T) {
	f := newFixture(t, freezable.LetMelt(true))
	a := f.accounts.MustNew(compose.Args{})
	ve, err := compose.NewViewEntity(a)
	require.NoError(t, err)

	assert.ErrorIs(t, freezable.Melt(context.Background(), ve, false), compose.ErrViewImmutable)
	assert.ErrorIs(t, freezable.Freeze(context.Background(), ve, false), compose.ErrViewImmutable)
}
