// Package cachetest provides a reusable contract suite for cachecore.Backend implementations.
//
// Example pattern:
//
//	func TestRedisBackendContract(t *testing.T) {
//		backend := callcache.NewRedisBackend(ctx, newTestRedisClient(t), callcache.WithPrefix("test"))
//		cachetest.RunBackendContract(t, backend, cachetest.Options{CaseName: t.Name()})
//	}
//
// Example factory/cleanup wrapper:
//
//	func runContractWithFactory(t *testing.T, mk func(t *testing.T) (callcache.Backend, func())) {
//		t.Helper()
//		backend, cleanup := mk(t)
//		t.Cleanup(cleanup)
//		cachetest.RunBackendContract(t, backend, cachetest.Options{CaseName: t.Name()})
//	}
package cachetest
