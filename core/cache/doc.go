// Package cache implements reconcile.Store on top of gorm.
//
// Each entity type is a table named after it. Register maps the entity type to its model struct
// and Migrate creates the tables. Atomic units run in one database transaction, so a failed
// reconcile rolls back completely.
//
// Foreign keys are not declared: dangling parent references are legal in the cache and cascades
// are driven by reconcile.Policy rather than by the database.
//
// CredentialStore persists auth credentials in the same database.
package cache
