// Package aggregation declares the cached financial collections and the refresh operations
// that keep them in sync with the remote API.
//
// Every collection is one reconcile.Engine configured by a Collection value; the refresh
// operations only decide the scope and the remote query:
//
//	RefreshAccounts(ctx, 50)   // accounts[provider_account_id=50] <- GET accounts?providerAccountId=50
//	RefreshTransactions(ctx, TransactionQuery{AccountID: 7, From: "2024-01-01", To: "2024-01-31"})
//
// # Cascades
//
// Edges declares which children disappear with their parent:
//
//	providers -> provider_accounts -> accounts -> transactions
//	                                           -> cards
//	                       provider_accounts -> consents
//	bills -> bill_payments
//	budgets -> budget_periods
//	goals -> goal_periods
//
// # Missing related records
//
// Rows may reference parents that are not cached. After provider accounts or transactions are
// refreshed, an Enricher fetches those parents by id in the background with exponential
// backoff. Enrichment never fails the refresh that triggered it.
//
// # HTTP
//
//	POST   /sync                     refresh everything
//	POST   /sync/:collection         refresh one collection (?parent=, ?from=&to=, ?ids=)
//	GET    /sync/status              last result per collection
//	GET    /cache/:collection        cached rows
//	PUT    /cache/transactions/:id   store a locally edited transaction
//	DELETE /cache/:collection/:id    forget a record and its dependents
package aggregation
