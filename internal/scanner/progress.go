package scanner

import "github.com/mvp-joe/lattice/internal/ast"

// ProgressReporter receives scan progress callbacks.
type ProgressReporter interface {
	OnScanStart(root string)
	OnFileDiscovered(relPath string, lang ast.Language)
	OnScanComplete(result *ScanResult)
}

// NoOpProgressReporter is a progress reporter that does nothing.
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) OnScanStart(root string)                            {}
func (n *NoOpProgressReporter) OnFileDiscovered(relPath string, lang ast.Language) {}
func (n *NoOpProgressReporter) OnScanComplete(result *ScanResult)                  {}
