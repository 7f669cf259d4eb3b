package obs

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	// buildInfo: gauge со статич. значением 1 и метками сервиса/версии/коммита.
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Eostre service build information.",
		},
		[]string{"service", "version", "commit"},
	)

	ready atomic.Bool
)

// BuildInfo describes the running binary; served on /v1/info.
type BuildInfo struct {
	Service string `json:"service"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// InitBuildInfo регистрирует метрику build_info (однократно) и устанавливает значение.
func InitBuildInfo(info BuildInfo) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(info.Service, info.Version, info.Commit).Set(1)
}

// SetReady flips the readiness flag reported by /readyz and the gRPC health service.
func SetReady(v bool) { ready.Store(v) }

// Ready reports the readiness flag.
func Ready() bool { return ready.Load() }
