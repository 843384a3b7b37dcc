// Package memory keeps exported reports in memory, for local runs and tests.
package memory

import (
	"context"
	"sync"

	"budget/internal/core"
	ports "budget/internal/sheets"
)

var _ ports.ReportExporter = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	rows [][]any
}

func New() *Store { return &Store{} }

// ExportReports stores one row per report.
func (s *Store) ExportReports(_ context.Context, reports []core.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range reports {
		s.rows = append(s.rows, ports.Row(r))
	}
	return nil
}

// Rows returns a copy of the exported rows.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows...)
}
