package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-etl/pkg/crypto"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

type stubReader struct {
	desc    Descriptor
	testErr error
	closed  bool
}

func (r *stubReader) TestConnection(ctx context.Context) error { return r.testErr }
func (r *stubReader) Close() error {
	r.closed = true
	return nil
}
func (r *stubReader) ReadTable(ctx context.Context, table string, columns []string) (RowCursor, error) {
	return nil, errors.New("not implemented")
}

// stubAdapter registers a test-only source type whose opener records its input.
type stubAdapter struct {
	typ      string
	calls    int
	failures []error
	keys     []string
	// testErrs are returned by TestConnection of successive readers.
	testErrs []error
	readers  []*stubReader
}

func registerStub(t *testing.T) *stubAdapter {
	t.Helper()
	s := &stubAdapter{typ: "stub-" + uuid.NewString()}
	Register(AdapterRegistration{
		Info: AdapterInfo{Type: s.typ, DisplayName: "Stub"},
		Open: func(ctx context.Context, d Descriptor, pools *ConnectionManager, poolKey string) (SourceReader, error) {
			s.calls++
			s.keys = append(s.keys, poolKey)
			if len(s.failures) > 0 {
				err := s.failures[0]
				s.failures = s.failures[1:]
				return nil, err
			}
			r := &stubReader{desc: d}
			if len(s.testErrs) > 0 {
				r.testErr = s.testErrs[0]
				s.testErrs = s.testErrs[1:]
			}
			s.readers = append(s.readers, r)
			return r, nil
		},
	})
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, s.typ)
		registryMu.Unlock()
	})
	return s
}

func newTestConnector(t *testing.T, cipher *crypto.DescriptorCipher) *Connector {
	t.Helper()
	c := NewConnector(nil, cipher, 2, zaptest.NewLogger(t))
	c.lookupEnv = envFrom(map[string]string{"LEGACY_HOST": "from-env"})
	return c
}

func TestConnector_OpensRegisteredType(t *testing.T) {
	stub := registerStub(t)
	c := newTestConnector(t, nil)

	reader, err := c.Open(context.Background(), &models.Source{ID: uuid.New(), Name: "legacy", ConnectionType: stub.typ, ConnectionString: "env:legacy"})
	require.NoError(t, err)

	assert.Equal(t, "from-env", reader.(*stubReader).desc.String(KeyHost))
	assert.True(t, IsRegistered(stub.typ))
}

func TestConnector_UnsupportedType(t *testing.T) {
	c := newTestConnector(t, nil)

	_, err := c.Open(context.Background(), &models.Source{Name: "legacy", ConnectionType: "dbase", ConnectionString: "/x.dbf"})
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.Contains(t, err.Error(), "dbase")
}

func TestConnector_DecryptsSealedDescriptor(t *testing.T) {
	stub := registerStub(t)
	cipher, err := crypto.NewDescriptorCipher("test-passphrase")
	require.NoError(t, err)
	sealed, err := cipher.Seal(`{"host": "secret-host"}`)
	require.NoError(t, err)

	reader, err := newTestConnector(t, cipher).Open(context.Background(), &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: sealed})
	require.NoError(t, err)
	assert.Equal(t, "secret-host", reader.(*stubReader).desc.String(KeyHost))
}

func TestConnector_SealedWithoutKey(t *testing.T) {
	stub := registerStub(t)
	cipher, err := crypto.NewDescriptorCipher("test-passphrase")
	require.NoError(t, err)
	sealed, err := cipher.Seal(`{"host": "secret-host"}`)
	require.NoError(t, err)

	_, err = newTestConnector(t, nil).Open(context.Background(), &models.Source{ConnectionType: stub.typ, ConnectionString: sealed})
	assert.ErrorIs(t, err, ErrInvalidSource)
	assert.Zero(t, stub.calls)
}

func TestConnector_RetriesTransientFailures(t *testing.T) {
	stub := registerStub(t)
	stub.failures = []error{errors.New("dial tcp: connection refused")}

	_, err := newTestConnector(t, nil).Open(context.Background(), &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: "/data"})
	require.NoError(t, err)
	assert.Equal(t, 2, stub.calls)
}

func TestConnector_DoesNotRetryPermanentFailures(t *testing.T) {
	stub := registerStub(t)
	stub.failures = []error{errors.New("login failed for user 'reader'")}

	_, err := newTestConnector(t, nil).Open(context.Background(), &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: "/data"})
	require.Error(t, err)
	assert.Equal(t, 1, stub.calls)
}

func TestConnector_UnreachableSourceFailsOnOpen(t *testing.T) {
	stub := registerStub(t)
	stub.testErrs = []error{errors.New("login failed for user 'reader'")}

	_, err := newTestConnector(t, nil).Open(context.Background(), &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: "/data"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")
	require.Len(t, stub.readers, 1)
	assert.True(t, stub.readers[0].closed, "reader that failed its connection test is closed")
}

func TestConnector_RetriesTransientConnectionTestFailure(t *testing.T) {
	stub := registerStub(t)
	stub.testErrs = []error{errors.New("dial tcp: connection refused")}

	reader, err := newTestConnector(t, nil).Open(context.Background(), &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: "/data"})
	require.NoError(t, err)
	require.Len(t, stub.readers, 2)
	assert.True(t, stub.readers[0].closed)
	assert.Same(t, stub.readers[1], reader)
}

func TestConnector_PoolKeyFollowsDescriptor(t *testing.T) {
	stub := registerStub(t)
	c := newTestConnector(t, nil)
	src := &models.Source{ID: uuid.New(), ConnectionType: stub.typ, ConnectionString: "/data/a"}

	_, err := c.Open(context.Background(), src)
	require.NoError(t, err)
	_, err = c.Open(context.Background(), src)
	require.NoError(t, err)
	src.ConnectionString = "/data/b"
	_, err = c.Open(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, stub.keys, 3)
	assert.Equal(t, stub.keys[0], stub.keys[1])
	assert.NotEqual(t, stub.keys[1], stub.keys[2])
}

func TestRegisteredAdapters_Sorted(t *testing.T) {
	registerStub(t)
	registerStub(t)

	infos := RegisteredAdapters()
	for i := 1; i < len(infos); i++ {
		assert.LessOrEqual(t, infos[i-1].Type, infos[i].Type)
	}
}
