package common

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

type RuntimeProfile struct {
	Name     string
	GOGC     int
	MemLimit int64
	MaxProcs int // 0 means leave GOMAXPROCS alone
}

// Routing allocates many short-lived big.Int / uint256 values per request, so a
// higher GOGC with a memory ceiling trades heap for fewer collections.
var runtimeProfiles = map[string]RuntimeProfile{
	"small":  {Name: "small", GOGC: 200, MemLimit: 1536 << 20, MaxProcs: 2},
	"medium": {Name: "medium", GOGC: 400, MemLimit: 6 << 30},
	"large":  {Name: "large", GOGC: 800, MemLimit: 14 << 30},
}

func detectRuntimeProfile() RuntimeProfile {
	switch cpu := runtime.NumCPU(); {
	case cpu <= 2:
		return runtimeProfiles["small"]
	case cpu <= 8:
		return runtimeProfiles["medium"]
	default:
		return runtimeProfiles["large"]
	}
}

// InitRuntime applies a runtime profile ("auto", "small", "medium", "large").
// Explicit GOGC / GOMEMLIMIT / GOMAXPROCS environment variables always win.
func InitRuntime(name string) RuntimeProfile {
	profile, ok := runtimeProfiles[name]
	if !ok {
		profile = detectRuntimeProfile()
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(profile.GOGC)
	}
	if os.Getenv("GOMEMLIMIT") == "" {
		debug.SetMemoryLimit(profile.MemLimit)
	}
	if os.Getenv("GOMAXPROCS") == "" && profile.MaxProcs > 0 {
		runtime.GOMAXPROCS(profile.MaxProcs)
	}

	// SetGCPercent returns the previous value; read it and put it straight back.
	gogc := debug.SetGCPercent(-1)
	debug.SetGCPercent(gogc)

	log.Info().
		Str("profile", profile.Name).
		Int("gogc", gogc).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Int("num_cpu", runtime.NumCPU()).
		Str("go_version", runtime.Version()).
		Msg("[runtime] settings applied")

	return profile
}
