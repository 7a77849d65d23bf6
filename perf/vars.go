package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency     = metric.NewHistogram("1m1s")
	LookupHops          = metric.NewHistogram("5m10s")
	LsaAccepted         = metric.NewCounter("10s1s")
	LsaDropped          = metric.NewCounter("10s1s")
	RouteRecomputations = metric.NewCounter("1m1s")
	SentPacketPerSecond = metric.NewCounter("10s1s")
	RecvPacketPerSecond = metric.NewCounter("10s1s")
	SentBytesPerSecond  = metric.NewCounter("10s1s")
	RecvBytesPerSecond  = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("overlay:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("overlay:LookupHops", LookupHops)
	expvar.Publish("overlay:LsaAccepted/s", LsaAccepted)
	expvar.Publish("overlay:LsaDropped/s", LsaDropped)
	expvar.Publish("overlay:RouteRecomputations", RouteRecomputations)
	expvar.Publish("overlay:SentPacket/s", SentPacketPerSecond)
	expvar.Publish("overlay:RecvPacket/s", RecvPacketPerSecond)
	expvar.Publish("overlay:SentBytes/s", SentBytesPerSecond)
	expvar.Publish("overlay:RecvBytes/s", RecvBytesPerSecond)
}
