// Package async provides panic-safe background execution.
//
// SafeGo is used for best-effort side effects that must never fail the
// request that triggered them, such as limit notifications and storage
// counter updates. Batch fans a slice of work out over a bounded number of
// goroutines and is used by the scheduled limit reconciliation.
package async
