// Package health checks the session store tiers and reports them through
// the standard gRPC health service.
//
// Checks are plain probes returning a Status. PingCheck covers anything with
// a Ping method, which includes store.RedisTier, store.SQLiteRepository and
// store.EtcdRepository. A Monitor runs the checks on an interval and
// publishes one gRPC health service per check plus the overall status under
// the empty service name:
//
//	monitor := health.NewMonitor([]health.Check{
//	    health.PingCheck("l2", redisTier, false),
//	    health.PingCheck("l3", repo, true),
//	}, 15*time.Second, logger)
//	go monitor.Run(ctx)
//
//	srv := health.NewGRPCServer(monitor)
//	lis, _ := net.Listen("tcp", ":9090")
//	go srv.Serve(lis)
//
// The L2 tier is masked by default, so its failure degrades the service
// without taking it out of rotation. The durable tier is critical.
package health
