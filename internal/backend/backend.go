package backend

import (
	"log/slog"
	"sync"

	"mio/internal/logging"
)

// Kind identifies an optimisation backend.
type Kind string

const (
	KindHighQuality Kind = "high-quality"
	KindBasic       Kind = "basic"
	KindRemote      Kind = "remote"
)

func (k Kind) String() string { return string(k) }

// ParseKind maps a name to a Kind. Unknown names report false.
func ParseKind(value string) (Kind, bool) {
	switch Kind(value) {
	case KindHighQuality, KindBasic, KindRemote:
		return Kind(value), true
	default:
		return "", false
	}
}

// Capabilities records which in-process libraries are present.
type Capabilities struct {
	HighQuality bool
	Basic       bool
}

// Select returns the highest-priority backend the capabilities allow. Remote
// is the universal fallback.
func Select(caps Capabilities) Kind {
	switch {
	case caps.HighQuality:
		return KindHighQuality
	case caps.Basic:
		return KindBasic
	default:
		return KindRemote
	}
}

// Chain returns the selected backend followed by every lower-priority backend
// the capabilities allow. Remote is always last.
func Chain(caps Capabilities) []Kind {
	chain := make([]Kind, 0, 3)
	if caps.HighQuality {
		chain = append(chain, KindHighQuality)
	}
	if caps.Basic {
		chain = append(chain, KindBasic)
	}
	return append(chain, KindRemote)
}

// ProbeFunc reports the runtime capabilities.
type ProbeFunc func() Capabilities

// Selector probes capabilities once and caches the decision.
type Selector struct {
	probe  ProbeFunc
	logger *slog.Logger

	once sync.Once
	caps Capabilities
	kind Kind
}

// NewSelector wraps probe. A nil probe reports no in-process libraries.
func NewSelector(probe ProbeFunc, logger *slog.Logger) *Selector {
	if probe == nil {
		probe = func() Capabilities { return Capabilities{} }
	}
	return &Selector{probe: probe, logger: logging.NewComponentLogger(logger, "backend")}
}

func (s *Selector) resolve() {
	s.once.Do(func() {
		s.caps = s.probe()
		s.kind = Select(s.caps)
		s.logger.Info("optimisation backend selected",
			logging.String(logging.FieldBackend, s.kind.String()),
			logging.Bool("high_quality_available", s.caps.HighQuality),
			logging.Bool("basic_available", s.caps.Basic),
			logging.String(logging.FieldEventType, "backend_selected"),
		)
	})
}

// Kind returns the primary backend.
func (s *Selector) Kind() Kind {
	s.resolve()
	return s.kind
}

// Capabilities returns the probed capabilities.
func (s *Selector) Capabilities() Capabilities {
	s.resolve()
	return s.caps
}

// Chain returns the fallback order starting at the primary backend.
func (s *Selector) Chain() []Kind {
	s.resolve()
	return Chain(s.caps)
}
