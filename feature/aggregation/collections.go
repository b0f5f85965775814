package aggregation

import (
	"errors"
	"fmt"
	"reflect"

	"finsync/core/reconcile"
)

// Cached collections. Each name is also the cache table name.
const (
	Providers        reconcile.EntityType = "providers"
	ProviderAccounts reconcile.EntityType = "provider_accounts"
	Accounts         reconcile.EntityType = "accounts"
	Transactions     reconcile.EntityType = "transactions"
	Cards            reconcile.EntityType = "cards"
	Bills            reconcile.EntityType = "bills"
	BillPayments     reconcile.EntityType = "bill_payments"
	Budgets          reconcile.EntityType = "budgets"
	BudgetPeriods    reconcile.EntityType = "budget_periods"
	Goals            reconcile.EntityType = "goals"
	GoalPeriods      reconcile.EntityType = "goal_periods"
	Consents         reconcile.EntityType = "consents"
	UserTags         reconcile.EntityType = "user_tags"
)

// Edges is the cascade graph: deleting a parent removes the children that reference it.
var Edges = []reconcile.Edge{
	{Parent: Providers, Child: ProviderAccounts, ParentField: "provider_id"},
	{Parent: ProviderAccounts, Child: Accounts, ParentField: "provider_account_id"},
	{Parent: ProviderAccounts, Child: Consents, ParentField: "provider_account_id"},
	{Parent: Accounts, Child: Transactions, ParentField: "account_id"},
	{Parent: Accounts, Child: Cards, ParentField: "account_id"},
	{Parent: Bills, Child: BillPayments, ParentField: "bill_id"},
	{Parent: Budgets, Child: BudgetPeriods, ParentField: "budget_id"},
	{Parent: Goals, Child: GoalPeriods, ParentField: "goal_id"},
}

// NewPolicy builds the cascade policy from Edges.
func NewPolicy() (*reconcile.Policy, error) {
	return reconcile.NewPolicy(Edges...)
}

// Models maps every collection to its model, in parent-before-child order.
var Models = []struct {
	Entity reconcile.EntityType
	Model  any
}{
	{Providers, &Provider{}},
	{ProviderAccounts, &ProviderAccount{}},
	{Accounts, &Account{}},
	{Transactions, &Transaction{}},
	{Cards, &Card{}},
	{Bills, &Bill{}},
	{BillPayments, &BillPayment{}},
	{Budgets, &Budget{}},
	{BudgetPeriods, &BudgetPeriod{}},
	{Goals, &Goal{}},
	{GoalPeriods, &GoalPeriod{}},
	{Consents, &Consent{}},
	{UserTags, &UserTag{}},
}

// Registrar is a store that maps collections to model structs.
type Registrar interface {
	Register(entity reconcile.EntityType, model any) error
}

// Register maps every collection onto store.
func Register(store Registrar) error {
	for _, m := range Models {
		if err := store.Register(m.Entity, m.Model); err != nil {
			return fmt.Errorf("failed to register %s: %w", m.Entity, err)
		}
	}
	return nil
}

// Engines holds one reconcile engine per collection.
type Engines struct {
	Providers        *reconcile.Engine[int64, Provider]
	ProviderAccounts *reconcile.Engine[int64, ProviderAccount]
	Accounts         *reconcile.Engine[int64, Account]
	Transactions     *reconcile.Engine[int64, Transaction]
	Cards            *reconcile.Engine[int64, Card]
	Bills            *reconcile.Engine[int64, Bill]
	BillPayments     *reconcile.Engine[int64, BillPayment]
	Budgets          *reconcile.Engine[int64, Budget]
	BudgetPeriods    *reconcile.Engine[int64, BudgetPeriod]
	Goals            *reconcile.Engine[int64, Goal]
	GoalPeriods      *reconcile.Engine[int64, GoalPeriod]
	Consents         *reconcile.Engine[int64, Consent]
	UserTags         *reconcile.SetReconciler[UserTag]
}

// NewEngines declares every collection against deps.
func NewEngines(deps reconcile.Deps) (*Engines, error) {
	var (
		e    Engines
		errs []error
	)
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	e.Providers, err = reconcile.NewEngine(reconcile.Collection[int64, Provider]{
		Entity: Providers,
		Key:    func(p Provider) int64 { return p.ID },
	}, deps)
	collect(err)

	e.ProviderAccounts, err = reconcile.NewEngine(reconcile.Collection[int64, ProviderAccount]{
		Entity:      ProviderAccounts,
		Key:         func(p ProviderAccount) int64 { return p.ID },
		ScopeFields: []string{"provider_id"},
	}, deps)
	collect(err)

	e.Accounts, err = reconcile.NewEngine(reconcile.Collection[int64, Account]{
		Entity:      Accounts,
		Key:         func(a Account) int64 { return a.ID },
		ScopeFields: []string{"provider_account_id"},
	}, deps)
	collect(err)

	e.Transactions, err = reconcile.NewEngine(reconcile.Collection[int64, Transaction]{
		Entity:      Transactions,
		Key:         func(t Transaction) int64 { return t.ID },
		ScopeFields: []string{"account_id", "date"},
	}, deps)
	collect(err)

	e.Cards, err = reconcile.NewEngine(reconcile.Collection[int64, Card]{
		Entity:      Cards,
		Key:         func(c Card) int64 { return c.ID },
		ScopeFields: []string{"account_id"},
	}, deps)
	collect(err)

	e.Bills, err = reconcile.NewEngine(reconcile.Collection[int64, Bill]{
		Entity: Bills,
		Key:    func(b Bill) int64 { return b.ID },
	}, deps)
	collect(err)

	e.BillPayments, err = reconcile.NewEngine(reconcile.Collection[int64, BillPayment]{
		Entity:      BillPayments,
		Key:         func(p BillPayment) int64 { return p.ID },
		ScopeFields: []string{"bill_id"},
	}, deps)
	collect(err)

	e.Budgets, err = reconcile.NewEngine(reconcile.Collection[int64, Budget]{
		Entity: Budgets,
		Key:    func(b Budget) int64 { return b.ID },
	}, deps)
	collect(err)

	e.BudgetPeriods, err = reconcile.NewEngine(reconcile.Collection[int64, BudgetPeriod]{
		Entity:      BudgetPeriods,
		Key:         func(p BudgetPeriod) int64 { return p.ID },
		ScopeFields: []string{"budget_id"},
	}, deps)
	collect(err)

	e.Goals, err = reconcile.NewEngine(reconcile.Collection[int64, Goal]{
		Entity: Goals,
		Key:    func(g Goal) int64 { return g.ID },
	}, deps)
	collect(err)

	e.GoalPeriods, err = reconcile.NewEngine(reconcile.Collection[int64, GoalPeriod]{
		Entity:      GoalPeriods,
		Key:         func(p GoalPeriod) int64 { return p.ID },
		ScopeFields: []string{"goal_id"},
	}, deps)
	collect(err)

	e.Consents, err = reconcile.NewEngine(reconcile.Collection[int64, Consent]{
		Entity:      Consents,
		Key:         func(c Consent) int64 { return c.ID },
		ScopeFields: []string{"provider_account_id"},
	}, deps)
	collect(err)

	e.UserTags, err = reconcile.NewSetReconciler(reconcile.Collection[string, UserTag]{
		Entity: UserTags,
		Key:    func(t UserTag) string { return t.Name },
	}, deps, func(name string, _ reconcile.Scope) UserTag {
		return UserTag{Name: name}
	})
	collect(err)

	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to declare collections: %w", errors.Join(errs...))
	}
	return &e, nil
}

// NewSlice returns a pointer to an empty slice of the collection's model.
func NewSlice(entity reconcile.EntityType) (any, error) {
	for _, m := range Models {
		if m.Entity == entity {
			return reflect.New(reflect.SliceOf(reflect.TypeOf(m.Model).Elem())).Interface(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", reconcile.ErrUnknownEntity, entity)
}
