// Package plugin implements §5/§9's process-wide plugin registry: the only
// global mutable state the core carries. Four independent registries
// (encryption driver, compression driver, reactor factory, proactor
// factory) are each keyed by name, last registration for a given key wins,
// and entries are looked up explicitly rather than auto-discovered.
package plugin

import (
	"sync"

	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/tlsadapter"
)

// DemuxFactory constructs a fresh Demultiplexer, the shape
// engine.Config.NewDemultiplexer expects; both reactor (readiness) and
// proactor (completion) factories share it; it's the registry slot
// engine.Config.NewDemultiplexer is built to be wired from.
type DemuxFactory func() (demux.Demultiplexer, error)

// CompressionSession is a single compression/decompression stream, shaped
// like asocket.Encryption's push/pop pair but without a handshake: no
// concrete driver ships in this module (compression is not named as a
// required supplement), the registry slot exists so a caller-supplied
// driver has somewhere standard to register.
type CompressionSession interface {
	PushInput(buf []byte) error
	PopOutput(buf []byte) (int, error)
	Flush()
}

// CompressionDriver constructs CompressionSession values, the
// compression-side analogue of tlsadapter.Driver.
type CompressionDriver interface {
	NewSession() CompressionSession
}

var (
	mu                 sync.RWMutex
	encryptionDrivers  = map[string]tlsadapter.Driver{}
	compressionDrivers = map[string]CompressionDriver{}
	reactorFactories   = map[string]DemuxFactory{}
	proactorFactories  = map[string]DemuxFactory{}
)

func init() {
	RegisterEncryptionDriver("tls", tlsadapter.StdlibDriver{})
	RegisterReactorFactory("readiness", func() (demux.Demultiplexer, error) { return demux.NewReadiness() })
	RegisterReactorFactory("simulated", func() (demux.Demultiplexer, error) { return demux.NewSimulated(), nil })
	RegisterProactorFactory("completion", func() (demux.Demultiplexer, error) { return demux.NewCompletion() })
}

// RegisterEncryptionDriver registers d under name; a later call with the
// same name replaces it.
func RegisterEncryptionDriver(name string, d tlsadapter.Driver) {
	mu.Lock()
	defer mu.Unlock()
	encryptionDrivers[name] = d
}

// DeregisterEncryptionDriver removes a previously registered driver.
func DeregisterEncryptionDriver(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(encryptionDrivers, name)
}

// LookupEncryptionDriver returns the driver registered under name, if any.
func LookupEncryptionDriver(name string) (tlsadapter.Driver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := encryptionDrivers[name]
	return d, ok
}

// RegisterCompressionDriver registers d under name; a later call with the
// same name replaces it.
func RegisterCompressionDriver(name string, d CompressionDriver) {
	mu.Lock()
	defer mu.Unlock()
	compressionDrivers[name] = d
}

// DeregisterCompressionDriver removes a previously registered driver.
func DeregisterCompressionDriver(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(compressionDrivers, name)
}

// LookupCompressionDriver returns the driver registered under name, if any.
func LookupCompressionDriver(name string) (CompressionDriver, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := compressionDrivers[name]
	return d, ok
}

// RegisterReactorFactory registers a readiness-backed DemuxFactory under
// name; a later call with the same name replaces it.
func RegisterReactorFactory(name string, f DemuxFactory) {
	mu.Lock()
	defer mu.Unlock()
	reactorFactories[name] = f
}

// DeregisterReactorFactory removes a previously registered factory.
func DeregisterReactorFactory(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(reactorFactories, name)
}

// LookupReactorFactory returns the factory registered under name, if any.
func LookupReactorFactory(name string) (DemuxFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := reactorFactories[name]
	return f, ok
}

// RegisterProactorFactory registers a completion-backed DemuxFactory under
// name; a later call with the same name replaces it.
func RegisterProactorFactory(name string, f DemuxFactory) {
	mu.Lock()
	defer mu.Unlock()
	proactorFactories[name] = f
}

// DeregisterProactorFactory removes a previously registered factory.
func DeregisterProactorFactory(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(proactorFactories, name)
}

// LookupProactorFactory returns the factory registered under name, if any.
func LookupProactorFactory(name string) (DemuxFactory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := proactorFactories[name]
	return f, ok
}

// Reset clears every registry back to empty and re-runs the package's
// default registrations (tls/readiness/simulated/completion); intended for
// test teardown between cases that register their own fakes.
func Reset() {
	mu.Lock()
	encryptionDrivers = map[string]tlsadapter.Driver{}
	compressionDrivers = map[string]CompressionDriver{}
	reactorFactories = map[string]DemuxFactory{}
	proactorFactories = map[string]DemuxFactory{}
	mu.Unlock()
	RegisterEncryptionDriver("tls", tlsadapter.StdlibDriver{})
	RegisterReactorFactory("readiness", func() (demux.Demultiplexer, error) { return demux.NewReadiness() })
	RegisterReactorFactory("simulated", func() (demux.Demultiplexer, error) { return demux.NewSimulated(), nil })
	RegisterProactorFactory("completion", func() (demux.Demultiplexer, error) { return demux.NewCompletion() })
}
