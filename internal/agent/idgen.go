package agent

import (
	"fmt"
	"sync/atomic"
)

var planIDCounter int64

// newPlanID returns a process-unique, monotonically increasing plan id.
// Deliberately not the snowflake generator common/id wraps: plan ids are
// purely an in-run bookkeeping detail (Step references plan_snapshot_id,
// spec §9's "use indices/ids, not back-pointers" guidance) and need no
// cross-process uniqueness, unlike RunID/StepID which the queue and trace
// sink assign via common/id at the ambient-shell layer.
func newPlanID() string {
	n := atomic.AddInt64(&planIDCounter, 1)
	return fmt.Sprintf("plan-%d", n)
}
