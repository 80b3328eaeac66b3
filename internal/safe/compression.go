package safe

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
	// File extensions to skip compression for
	SkipExtensions []string
}

func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024,
		Level:   2,
		SkipExtensions: []string{
			".zip", ".gz", ".zst", ".xz", ".bz2",
			".png", ".jpg", ".jpeg", ".gif", ".webp",
			".pdf",
		},
	}
}

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// compressionManager pools zstd encoders and decoders.
type compressionManager struct {
	opts     CompressionOptions
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Validate options up front; pooled constructors cannot report errors.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	cm := &compressionManager{opts: opts}
	cm.encoders.New = func() interface{} {
		e, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		return e
	}
	cm.decoders.New = func() interface{} {
		d, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return d
	}
	cm.encoders.Put(enc)
	cm.decoders.Put(dec)
	return cm, nil
}

func (cm *compressionManager) shouldCompress(name string, size int) bool {
	if size < cm.opts.MinSize {
		return false
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, skip := range cm.opts.SkipExtensions {
		if ext == skip {
			return false
		}
	}
	return true
}

// compress returns the bytes to store and whether they were compressed.
// Content that does not shrink is stored as is.
func (cm *compressionManager) compress(name string, content []byte) ([]byte, bool, error) {
	if !cm.shouldCompress(name, len(content)) {
		return content, false, nil
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	out := enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(out) >= len(content) {
		return content, false, nil
	}
	return out, true, nil
}

func (cm *compressionManager) decompress(content []byte) ([]byte, error) {
	if len(content) < 4 || !bytes.Equal(content[:4], zstdMagic) {
		return content, nil
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	return dec.DecodeAll(content, nil)
}

// close releases the pooled coders that are currently idle.
func (cm *compressionManager) close() {
	cm.encoders.New = nil
	cm.decoders.New = nil
	for e := cm.encoders.Get(); e != nil; e = cm.encoders.Get() {
		e.(*zstd.Encoder).Close()
	}
	for d := cm.decoders.Get(); d != nil; d = cm.decoders.Get() {
		d.(*zstd.Decoder).Close()
	}
}
