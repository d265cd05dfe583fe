package pipeline

import "github.com/nkbud/terraform-index/core"

// Monitor provides hooks to observe the pipeline as it runs.
// Implement this interface to track throughput and failures per stage.
type Monitor interface {
	RecordCollected(source core.SourceType)
	DocumentsParsed(count int)
	DocumentIndexed()
	StageError(stage string, err error)
}

// noopMonitor is a no-op implementation of Monitor.
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) RecordCollected(_ core.SourceType) {}
func (n *noopMonitor) DocumentsParsed(_ int)             {}
func (n *noopMonitor) DocumentIndexed()                  {}
func (n *noopMonitor) StageError(_ string, _ error)      {}
