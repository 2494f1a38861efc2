// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: libnoorsync.so (Android) / noorsync.framework (iOS)
package main

/*
#cgo CFLAGS: -Wall -Wextra
#include <stdlib.h>
*/
import "C"
import (
	"sync"

	bridgepkg "github.com/kimhsiao/noorsync/backend/internal/bridge"
)

// bridge is the one engine owned by the host process.
var bridge = bridgepkg.New()

var (
	lastErr string
	lastMu  sync.RWMutex
)

func setLastError(err error) {
	lastMu.Lock()
	defer lastMu.Unlock()
	if err == nil {
		lastErr = ""
		return
	}
	lastErr = bridgepkg.ErrorJSON(err)
}

// status converts err to 0 on success and -1 on failure.
func status(err error) C.int {
	setLastError(err)
	if err != nil {
		return -1
	}
	return 0
}

// jsonResult returns out, or NULL with the last error set.
func jsonResult(out string, err error) *C.char {
	setLastError(err)
	if err != nil {
		return nil
	}
	return C.CString(out)
}

// SyncInit opens the engine. configPath may be NULL for defaults.
// Returns 0 on success, -1 on error.
//
//export SyncInit
func SyncInit(configPath *C.char) C.int {
	path := ""
	if configPath != nil {
		path = C.GoString(configPath)
	}
	return status(bridge.Init(path))
}

// SyncCleanup stops background sync and closes the data directory.
//
//export SyncCleanup
func SyncCleanup() {
	setLastError(bridge.Close())
}

// SyncGetLastError returns the last error as JSON, or NULL if the previous
// call succeeded. The caller frees the returned string.
//
//export SyncGetLastError
func SyncGetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()
	if lastErr == "" {
		return nil
	}
	return C.CString(lastErr)
}

// SyncQueueMutation queues a create, update or delete and returns the queued
// mutation as JSON.
//
//export SyncQueueMutation
func SyncQueueMutation(mutationType, entity, payloadJSON *C.char) *C.char {
	payload := ""
	if payloadJSON != nil {
		payload = C.GoString(payloadJSON)
	}
	return jsonResult(bridge.QueueMutation(C.GoString(mutationType), C.GoString(entity), payload))
}

//export SyncPendingMutations
func SyncPendingMutations() *C.char {
	return jsonResult(bridge.PendingMutations())
}

// SyncPendingCount returns the queue length, or -1 on error.
//
//export SyncPendingCount
func SyncPendingCount() C.int {
	n, err := bridge.PendingCount()
	if status(err) != 0 {
		return -1
	}
	return C.int(n)
}

//export SyncRemoveMutation
func SyncRemoveMutation(id *C.char) C.int {
	return status(bridge.RemoveMutation(C.GoString(id)))
}

// SyncPerformFull blocks until a full sync finishes and returns its result
// as JSON.
//
//export SyncPerformFull
func SyncPerformFull() *C.char {
	return jsonResult(bridge.PerformFullSync())
}

//export SyncLastResult
func SyncLastResult() *C.char {
	return jsonResult(bridge.LastResult())
}

// SyncStatus returns state, queue length and per-type freshness as JSON.
// maxAgeMs <= 0 uses the configured window.
//
//export SyncStatus
func SyncStatus(maxAgeMs C.longlong) *C.char {
	return jsonResult(bridge.Status(int64(maxAgeMs)))
}

// SyncLastSync returns the last sync of contentType in epoch ms, -1 if it
// never synced, or -2 on error.
//
//export SyncLastSync
func SyncLastSync(contentType *C.char) C.longlong {
	ts, err := bridge.LastSync(C.GoString(contentType))
	if status(err) != 0 {
		return -2
	}
	return C.longlong(ts)
}

// SyncNeedsSync returns 1 if contentType is stale, 0 if fresh, -1 on error.
//
//export SyncNeedsSync
func SyncNeedsSync(contentType *C.char, maxAgeMs C.longlong) C.int {
	stale, err := bridge.NeedsSync(C.GoString(contentType), int64(maxAgeMs))
	if status(err) != 0 {
		return -1
	}
	if stale {
		return 1
	}
	return 0
}

//export SyncConflictStrategy
func SyncConflictStrategy(entityType *C.char) *C.char {
	s, err := bridge.ConflictStrategy(C.GoString(entityType))
	return jsonResult(s, err)
}

//export SyncForceUnlock
func SyncForceUnlock() C.int {
	return status(bridge.ForceUnlock())
}

// SyncSetOnline reports connectivity. Going online triggers a background
// sync.
//
//export SyncSetOnline
func SyncSetOnline(online C.int) C.int {
	return status(bridge.SetOnline(online != 0))
}
