package store

import (
	"bytes"
	"context"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Compressed wraps a DocumentStore and zstd-compresses document bodies.
// Bodies written before compression was enabled are returned unchanged.
type Compressed struct {
	DocumentStore
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCompressed(inner DocumentStore) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, "store: zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, errors.Wrap(err, "store: zstd decoder")
	}
	return &Compressed{DocumentStore: inner, enc: enc, dec: dec}, nil
}

func (c *Compressed) Get(ctx context.Context, collection, key string) ([]byte, error) {
	body, err := c.DocumentStore.Get(ctx, collection, key)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(body, zstdMagic) {
		return body, nil
	}
	out, err := c.dec.DecodeAll(body, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "store: decompress %s/%s", collection, key)
	}
	return out, nil
}

func (c *Compressed) Put(ctx context.Context, collection, key string, body []byte) error {
	return c.DocumentStore.Put(ctx, collection, key, c.enc.EncodeAll(body, nil))
}

func (c *Compressed) Close() error {
	c.dec.Close()
	_ = c.enc.Close()
	return c.DocumentStore.Close()
}
