package tracker

import (
	"errors"
	"fmt"

	"github.com/sasta-kro/magpie-previews/models"
)

// host port pools. app ports are searched upward from 8000, database ports
// from 9000; neither may exceed the TCP port ceiling.
const (
	appPortBase = 8000
	dbPortBase  = 9000
	portCeiling = 65535
)

// ErrPortsExhausted means no free host port remains in one of the pools.
// deploys fail immediately; there is nothing to retry until a preview is
// cleaned up.
var ErrPortsExhausted = errors.New("no free host ports available")

// AllocatePorts reserves an app/db host-port pair for the deployment and
// persists the reservation before returning. calling it again for an id that
// already holds an allocation returns the existing pair unchanged, which is
// what lets the update path re-use the ports of the original deploy.
//
// excludePorts carries host ports currently bound by running containers the
// store does not know about (orphans from failed deploys, unrelated
// workloads); they are treated as busy for both pools.
func (tracker *Tracker) AllocatePorts(deploymentID string, excludePorts []int) (models.PortAllocation, error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if existing, exists := tracker.document.PortAllocations[deploymentID]; exists {
		return existing, nil
	}

	busyAppPorts := make(map[int]bool, len(tracker.document.PortAllocations)+len(excludePorts))
	busyDbPorts := make(map[int]bool, len(tracker.document.PortAllocations)+len(excludePorts))
	for _, allocation := range tracker.document.PortAllocations {
		busyAppPorts[allocation.ExposedAppPort] = true
		busyDbPorts[allocation.ExposedDbPort] = true
	}
	for _, port := range excludePorts {
		busyAppPorts[port] = true
		busyDbPorts[port] = true
	}

	appPort, err := smallestFreePort(appPortBase, busyAppPorts)
	if err != nil {
		return models.PortAllocation{}, fmt.Errorf("app port pool: %w", err)
	}
	dbPort, err := smallestFreePort(dbPortBase, busyDbPorts)
	if err != nil {
		return models.PortAllocation{}, fmt.Errorf("db port pool: %w", err)
	}

	allocation := models.PortAllocation{ExposedAppPort: appPort, ExposedDbPort: dbPort}
	tracker.document.PortAllocations[deploymentID] = allocation

	if err := tracker.persistLocked(); err != nil {
		// keep memory consistent with the file that did not change
		delete(tracker.document.PortAllocations, deploymentID)
		return models.PortAllocation{}, err
	}

	tracker.logger.Info("allocated host ports",
		"deploymentId", deploymentID,
		"exposedAppPort", appPort,
		"exposedDbPort", dbPort,
	)
	return allocation, nil
}

// ReleasePorts frees the allocation for the deployment. releasing an id with
// no allocation is a no-op, so cleanup paths can call it unconditionally.
func (tracker *Tracker) ReleasePorts(deploymentID string) error {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	if _, exists := tracker.document.PortAllocations[deploymentID]; !exists {
		return nil
	}

	delete(tracker.document.PortAllocations, deploymentID)
	return tracker.persistLocked()
}

// smallestFreePort returns the lowest port >= base not present in busy.
func smallestFreePort(base int, busy map[int]bool) (int, error) {
	for candidate := base; candidate <= portCeiling; candidate++ {
		if !busy[candidate] {
			return candidate, nil
		}
	}
	return 0, ErrPortsExhausted
}
