package indexer

import "time"

// ProgressSink receives indexing progress. Implementations can display
// progress bars, log messages, or remain silent. Calls may arrive from
// several workers at once.
type ProgressSink interface {
	// OnIndexStart is called once before any file is parsed.
	OnIndexStart(totalFiles int)

	// OnFileIndexed is called after each file, successful or not.
	OnFileIndexed(relPath string, err error)

	// OnLinkingStart is called before the cross-file resolution pass.
	OnLinkingStart(totalFiles int)

	// OnIndexComplete is called when the patch is ready.
	OnIndexComplete(stats Stats, elapsed time.Duration)
}

// NoOpProgressSink is a progress sink that does nothing.
type NoOpProgressSink struct{}

func (n *NoOpProgressSink) OnIndexStart(totalFiles int)                        {}
func (n *NoOpProgressSink) OnFileIndexed(relPath string, err error)            {}
func (n *NoOpProgressSink) OnLinkingStart(totalFiles int)                      {}
func (n *NoOpProgressSink) OnIndexComplete(stats Stats, elapsed time.Duration) {}
