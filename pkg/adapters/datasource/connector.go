package datasource

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-etl/pkg/crypto"
	"github.com/ekaya-inc/ekaya-etl/pkg/logging"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
	"github.com/ekaya-inc/ekaya-etl/pkg/retry"
)

// Connector opens source readers from stored Source rows: it decrypts and
// parses the descriptor, picks the registered adapter, and retries transient
// connection failures.
type Connector struct {
	pools     *ConnectionManager
	cipher    *crypto.DescriptorCipher
	retry     *retry.Config
	lookupEnv func(string) (string, bool)
	logger    *zap.Logger
}

// NewConnector creates a Connector. cipher may be nil when no source uses an
// encrypted descriptor.
func NewConnector(pools *ConnectionManager, cipher *crypto.DescriptorCipher, retries int, logger *zap.Logger) *Connector {
	return &Connector{
		pools:     pools,
		cipher:    cipher,
		retry:     retry.WithMaxRetries(retries),
		lookupEnv: os.LookupEnv,
		logger:    logger.Named("sources"),
	}
}

// Open connects to src and returns a reader the caller must close.
func (c *Connector) Open(ctx context.Context, src *models.Source) (SourceReader, error) {
	open := GetOpener(src.ConnectionType)
	if open == nil {
		return nil, fmt.Errorf("%w: unsupported source type %q", ErrInvalidSource, src.ConnectionType)
	}

	raw, err := c.cipher.Open(src.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %v", ErrInvalidSource, src.Name, err)
	}

	desc, err := ParseDescriptor(raw, c.lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Name, err)
	}

	key := poolKey(src, raw)
	reader, err := retry.DoIfRetryable(ctx, c.retry, func() (SourceReader, error) {
		r, err := open(ctx, desc, c.pools, key)
		if err != nil {
			return nil, err
		}
		// Pools connect lazily; fail here rather than on the first read.
		if err := r.TestConnection(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		c.logger.Error("Failed to open source",
			zap.String("source", src.Name),
			zap.String("type", src.ConnectionType),
			zap.String("descriptor", logging.SanitizeDescriptor(src.ConnectionString)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, err
	}

	c.logger.Debug("Opened source",
		zap.String("source", src.Name),
		zap.String("type", src.ConnectionType),
	)
	return reader, nil
}

// poolKey keys cached pools by source and descriptor, so an edited
// descriptor never reuses the old pool.
func poolKey(src *models.Source, descriptor string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(descriptor))
	return fmt.Sprintf("%s:%s:%x", src.ID, src.ConnectionType, h.Sum64())
}
