// Package repomanager hands out the repositories behind one storage backend
// (Postgres or in-process memory) and scopes them to a transaction.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/consumedtokens"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/terms"
)

type RepositoryManager interface {
	Profiles() profiles.Repository
	Terms() terms.Repository
	AuditLogs() auditlogs.Repository
	Owners() owners.Repository
	ConsumedTokens() consumedtokens.Repository

	// InTx runs fn with a manager whose repositories share one transaction.
	InTx(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error
	// Snapshot is InTx with a read-only, repeatable-read transaction.
	Snapshot(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error

	Close() error
}
