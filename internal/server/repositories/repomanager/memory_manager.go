package repomanager

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/auditlogs"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/consumedtokens"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/owners"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/profiles"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/terms"
)

// MemoryRepositoryManager keeps everything in process memory, for
// development and tests. Each repository is individually atomic; InTx
// serializes callers but does not roll back on error.
type MemoryRepositoryManager struct {
	txMu sync.Mutex

	profiles       *profiles.MemoryRepository
	terms          *terms.MemoryRepository
	auditLogs      *auditlogs.MemoryRepository
	owners         *owners.MemoryRepository
	consumedTokens *consumedtokens.MemoryRepository
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{
		profiles:       profiles.NewMemoryRepository(),
		terms:          terms.NewMemoryRepository(),
		auditLogs:      auditlogs.NewMemoryRepository(),
		owners:         owners.NewMemoryRepository(),
		consumedTokens: consumedtokens.NewMemoryRepository(),
	}
}

func (m *MemoryRepositoryManager) Profiles() profiles.Repository { return m.profiles }

func (m *MemoryRepositoryManager) Terms() terms.Repository { return m.terms }

func (m *MemoryRepositoryManager) AuditLogs() auditlogs.Repository { return m.auditLogs }

func (m *MemoryRepositoryManager) Owners() owners.Repository { return m.owners }

func (m *MemoryRepositoryManager) ConsumedTokens() consumedtokens.Repository { return m.consumedTokens }

func (m *MemoryRepositoryManager) InTx(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	return fn(ctx, memoryTx{m})
}

func (m *MemoryRepositoryManager) Snapshot(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	return m.InTx(ctx, fn)
}

func (m *MemoryRepositoryManager) Close() error { return nil }

// memoryTx is the manager handed to InTx callbacks; nested transactions run
// inline instead of re-taking the lock.
type memoryTx struct {
	*MemoryRepositoryManager
}

func (t memoryTx) InTx(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	return fn(ctx, t)
}

func (t memoryTx) Snapshot(ctx context.Context, fn func(ctx context.Context, m RepositoryManager) error) error {
	return fn(ctx, t)
}
