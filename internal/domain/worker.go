package domain

import (
	"strings"
	"time"
)

// DefaultRAMGB is assumed when a worker does not declare its memory.
const DefaultRAMGB = 8

// Capability thresholds for the static routing table.
const (
	FastClassMinRAMGB = 32
	DeepClassMinRAMGB = 64
)

// WorkerStatus is derived from heartbeat recency and never stored.
type WorkerStatus string

const (
	WorkerStatusActive  WorkerStatus = "active"
	WorkerStatusStale   WorkerStatus = "stale"
	WorkerStatusOffline WorkerStatus = "offline"
)

// CapabilityProfile is what a worker declares about itself at registration.
type CapabilityProfile struct {
	GPUAvailable bool              `json:"gpu_available"`
	RAMGB        int               `json:"ram_gb"`
	CPUCores     int               `json:"cpu_cores,omitempty"`
	Models       []string          `json:"models,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Normalize fills in defaults for undeclared fields.
func (p CapabilityProfile) Normalize() CapabilityProfile {
	if p.RAMGB <= 0 {
		p.RAMGB = DefaultRAMGB
	}
	return p
}

// EligibleClasses applies the routing table: accelerated workers with
// enough memory take fast components, high-memory workers take deep
// components, and every worker takes general components.
func (p CapabilityProfile) EligibleClasses() []ComponentClass {
	p = p.Normalize()
	var classes []ComponentClass
	if p.GPUAvailable && p.RAMGB >= FastClassMinRAMGB {
		classes = append(classes, ClassFast)
	}
	if p.RAMGB >= DeepClassMinRAMGB {
		classes = append(classes, ClassDeep)
	}
	return append(classes, ClassGeneral)
}

// EligibleComponents returns every component type this profile may generate.
func (p CapabilityProfile) EligibleComponents() []ComponentType {
	return ComponentsInClasses(p.EligibleClasses())
}

// Worker is a registered executor.
type Worker struct {
	ID             string            `json:"id"`
	Capabilities   CapabilityProfile `json:"capabilities"`
	TasksCompleted int               `json:"tasks_completed"`
	TasksFailed    int               `json:"tasks_failed"`
	RegisteredAt   time.Time         `json:"registered_at"`
	LastHeartbeat  time.Time         `json:"last_heartbeat"`
	LastStatus     string            `json:"last_status,omitempty"`
}

// NewWorker validates the ID and returns a worker stamped with now.
func NewWorker(id string, caps CapabilityProfile, now time.Time) (*Worker, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidWorker
	}
	return &Worker{
		ID:            id,
		Capabilities:  caps.Normalize(),
		RegisteredAt:  now,
		LastHeartbeat: now,
	}, nil
}

// LivenessPolicy holds the thresholds used to derive WorkerStatus.
type LivenessPolicy struct {
	ActiveWindow time.Duration
	OfflineAfter time.Duration
}

// DefaultLivenessPolicy treats a worker as active for five minutes after its
// last heartbeat and offline after thirty.
func DefaultLivenessPolicy() LivenessPolicy {
	return LivenessPolicy{
		ActiveWindow: 5 * time.Minute,
		OfflineAfter: 30 * time.Minute,
	}
}

// Status derives the worker's liveness at now.
func (p LivenessPolicy) Status(lastHeartbeat, now time.Time) WorkerStatus {
	age := now.Sub(lastHeartbeat)
	switch {
	case age <= p.ActiveWindow:
		return WorkerStatusActive
	case age <= p.OfflineAfter:
		return WorkerStatusStale
	default:
		return WorkerStatusOffline
	}
}
