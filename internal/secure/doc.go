// Package secure generates secret material inside memguard locked buffers.
//
// Random bytes are drawn into mlocked, guard-paged memory and mapped onto the
// requested alphabet there, so the raw entropy never lands on the Go heap:
//
//	buf, err := secure.Generate(32, secure.AlphabetAlphanumeric)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//	password := string(buf.Bytes())
//
// The string copy is unavoidable once the value has to leave the process;
// callers keep it for as short a time as possible.
//
// # Platform Behavior
//
// Memory locking behavior varies by platform:
//
//   - Linux: Requires RLIMIT_MEMLOCK to be set appropriately
//   - macOS: Works out of the box
//   - Windows: Uses VirtualLock
//
// For complete cleanup at exit, call memguard.Purge() in main().
package secure
