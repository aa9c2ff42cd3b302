// Package storetest provides a conformance test suite for transfer.Store
// implementations.
//
// Every backend (memory, badger, SQL) runs the same suite:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) transfer.Store {
//	        return memory.New()
//	    })
//	}
//
// The factory receives *testing.T so it can call t.TempDir() for stores that
// need filesystem paths and t.Cleanup for teardown.
package storetest
