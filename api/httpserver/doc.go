// Package httpserver is the HTTP host shared by the long-running services:
// the relayer, the enclave proof service and the enclave registry.
//
// A BaseServer mounts the routes of any number of RouteRegistrar values and
// adds the operational endpoints:
//
//   - /livez reports that the process is up.
//   - /readyz reports readiness, which /drain and /undrain toggle so a load
//     balancer can take the instance out before shutdown.
//   - /debug serves pprof when EnablePprof is set.
//
// Prometheus metrics are served on a separate listener at MetricsAddr.
//
//	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
//	    ListenAddr:               ":8080",
//	    MetricsAddr:              ":8090",
//	    Gatherer:                 registry,
//	    GracefulShutdownDuration: 10 * time.Second,
//	}, relayerServer)
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
