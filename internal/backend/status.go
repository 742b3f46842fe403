package backend

// Status reports the availability of one backend for diagnostic output.
type Status struct {
	Kind      Kind
	Name      string
	Available bool
	Primary   bool
	Detail    string
}

// RemoteInfo describes the configured remote provider for Describe.
type RemoteInfo struct {
	Service    string
	Configured bool
	Detail     string
}

// Describe lists every backend in priority order with its availability.
func (s *Selector) Describe(remote RemoteInfo) []Status {
	caps := s.Capabilities()
	primary := s.Kind()

	hq := Status{Kind: KindHighQuality, Name: "libvips (bimg)", Available: caps.HighQuality}
	if !hq.Available {
		hq.Detail = "not compiled in (build with -tags vips) or disabled in config"
	}
	basic := Status{Kind: KindBasic, Name: "pure Go (imaging)", Available: caps.Basic}
	if !basic.Available {
		basic.Detail = "disabled in config"
	}
	rem := Status{Kind: KindRemote, Name: remote.Service, Available: remote.Configured, Detail: remote.Detail}
	if rem.Name == "" {
		rem.Name = "remote"
	}

	statuses := []Status{hq, basic, rem}
	for i := range statuses {
		statuses[i].Primary = statuses[i].Kind == primary
	}
	return statuses
}
