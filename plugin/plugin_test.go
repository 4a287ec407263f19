package plugin

import (
	"testing"

	"github.com/joeycumines/go-asynctransport/demux"
	"github.com/joeycumines/go-asynctransport/tlsadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistrationsArePresentAtInit(t *testing.T) {
	t.Cleanup(Reset)
	_, ok := LookupEncryptionDriver("tls")
	assert.True(t, ok)
	_, ok = LookupReactorFactory("readiness")
	assert.True(t, ok)
	_, ok = LookupProactorFactory("completion")
	assert.True(t, ok)
}

func TestRegisterEncryptionDriverLastWriteWins(t *testing.T) {
	t.Cleanup(Reset)
	first := tlsadapter.StdlibDriver{}
	second := tlsadapter.StdlibDriver{Logger: nil}
	RegisterEncryptionDriver("custom", first)
	RegisterEncryptionDriver("custom", second)
	got, ok := LookupEncryptionDriver("custom")
	require.True(t, ok)
	assert.Equal(t, second, got)
}

func TestDeregisterEncryptionDriverRemovesEntry(t *testing.T) {
	t.Cleanup(Reset)
	RegisterEncryptionDriver("custom", tlsadapter.StdlibDriver{})
	DeregisterEncryptionDriver("custom")
	_, ok := LookupEncryptionDriver("custom")
	assert.False(t, ok)
}

func TestCompressionDriverRegistryRoundTrip(t *testing.T) {
	t.Cleanup(Reset)
	d := fakeCompressionDriver{}
	RegisterCompressionDriver("gzip", d)
	got, ok := LookupCompressionDriver("gzip")
	require.True(t, ok)
	assert.Equal(t, d, got)

	DeregisterCompressionDriver("gzip")
	_, ok = LookupCompressionDriver("gzip")
	assert.False(t, ok)
}

func TestReactorAndProactorFactoryRegistryRoundTrip(t *testing.T) {
	t.Cleanup(Reset)
	called := false
	factory := func() (demux.Demultiplexer, error) {
		called = true
		return nil, nil
	}
	RegisterReactorFactory("fake-reactor", factory)
	got, ok := LookupReactorFactory("fake-reactor")
	require.True(t, ok)
	_, _ = got()
	assert.True(t, called)

	RegisterProactorFactory("fake-proactor", factory)
	_, ok = LookupProactorFactory("fake-proactor")
	assert.True(t, ok)

	DeregisterReactorFactory("fake-reactor")
	_, ok = LookupReactorFactory("fake-reactor")
	assert.False(t, ok)

	DeregisterProactorFactory("fake-proactor")
	_, ok = LookupProactorFactory("fake-proactor")
	assert.False(t, ok)
}

func TestResetClearsCustomRegistrationsButKeepsDefaults(t *testing.T) {
	RegisterEncryptionDriver("custom", tlsadapter.StdlibDriver{})
	Reset()
	_, ok := LookupEncryptionDriver("custom")
	assert.False(t, ok, "Reset clears anything registered beyond the package defaults")
	_, ok = LookupEncryptionDriver("tls")
	assert.True(t, ok, "Reset re-installs the default tls/readiness/completion registrations")
}

type fakeCompressionDriver struct{}

func (fakeCompressionDriver) NewSession() CompressionSession { return nil }
