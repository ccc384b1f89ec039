package concurrency

import (
	"fmt"
	"os"
	"runtime"
)

// Source records how a Sizing was chosen.
type Source string

const (
	SourceConfigured Source = "configured"
	SourceAutoDetect Source = "auto_detect"
)

// Sizing is the worker and slot count for the event bridge.
type Sizing struct {
	Workers       int
	MaxConcurrent int
	Source        Source
	IsKubernetes  bool
	EffectiveCPUs int
}

// Detect derives a sizing from the CPUs visible to the process. Inside
// Kubernetes it stays conservative to respect pod limits.
func Detect() Sizing {
	s := Sizing{
		IsKubernetes:  isKubernetes(),
		EffectiveCPUs: runtime.GOMAXPROCS(0),
		Source:        SourceAutoDetect,
	}
	if s.IsKubernetes {
		s.MaxConcurrent = s.EffectiveCPUs * 2
		s.Workers = max(s.EffectiveCPUs, 4)
	} else {
		s.MaxConcurrent = s.EffectiveCPUs * 4
		s.Workers = max(s.EffectiveCPUs*2, 8)
	}
	return s
}

// Override applies explicit values on top of a detected sizing. Zero values
// keep the detected ones.
func (s Sizing) Override(workers, maxConcurrent int) Sizing {
	if workers > 0 {
		s.Workers = workers
		s.Source = SourceConfigured
	}
	if maxConcurrent > 0 {
		s.MaxConcurrent = maxConcurrent
		s.Source = SourceConfigured
	}
	if s.MaxConcurrent < 1 {
		s.MaxConcurrent = 1
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	return s
}

func isKubernetes() bool {
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

func (s Sizing) String() string {
	return fmt.Sprintf("Sizing{Workers: %d, MaxConcurrent: %d, IsK8s: %t, CPUs: %d, Source: %s}",
		s.Workers, s.MaxConcurrent, s.IsKubernetes, s.EffectiveCPUs, s.Source)
}
