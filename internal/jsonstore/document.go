// Package jsonstore serializes every read-modify-write cycle on a JSON file
// through a single goroutine, so concurrent callers in this process can no
// longer lose each other's updates.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"agent_dashboard/internal/model"
)

// ErrClosed is returned by operations on a closed document
var ErrClosed = errors.New("jsonstore: document closed")

// Decoder turns raw file content into a document value
type Decoder[T any] func(data []byte) (T, error)

// Document owns one JSON file
type Document[T any] struct {
	path   string
	init   func() T
	decode Decoder[T]
	logger *logrus.Entry

	reqs      chan request[T]
	done      chan struct{}
	closeOnce sync.Once
}

type request[T any] struct {
	ctx   context.Context
	fn    func(*T) error
	write bool
	resp  chan error
}

// Option customizes a Document
type Option[T any] func(*Document[T])

// WithDecoder replaces the default encoding/json decoder, e.g. to run schema
// migrations at load time
func WithDecoder[T any](dec Decoder[T]) Option[T] {
	return func(d *Document[T]) {
		if dec != nil {
			d.decode = dec
		}
	}
}

// WithLogger sets the logger used for diagnostics
func WithLogger[T any](logger *logrus.Entry) Option[T] {
	return func(d *Document[T]) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Open starts the owner goroutine for path. The file is not touched until the
// first operation; a missing file reads as init().
func Open[T any](path string, init func() T, opts ...Option[T]) *Document[T] {
	d := &Document[T]{
		path:   path,
		init:   init,
		decode: decodeJSON[T],
		logger: logrus.NewEntry(logrus.StandardLogger()),
		reqs:   make(chan request[T]),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithField("file", path)
	go d.run()
	return d
}

// Path returns the file owned by the document
func (d *Document[T]) Path() string {
	return d.path
}

// View loads the current content and passes it to fn. Changes made by fn are
// discarded.
func (d *Document[T]) View(ctx context.Context, fn func(*T) error) error {
	return d.submit(ctx, fn, false)
}

// Update loads the current content, applies fn and rewrites the file
// atomically. Nothing is written when fn returns an error.
func (d *Document[T]) Update(ctx context.Context, fn func(*T) error) error {
	return d.submit(ctx, fn, true)
}

// Replace overwrites the document with v without reading the old content
func (d *Document[T]) Replace(ctx context.Context, v T) error {
	return d.submit(ctx, func(cur *T) error {
		*cur = v
		return nil
	}, true)
}

// Close stops the owner goroutine. Pending callers receive ErrClosed.
func (d *Document[T]) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

func (d *Document[T]) submit(ctx context.Context, fn func(*T) error, write bool) error {
	req := request[T]{ctx: ctx, fn: fn, write: write, resp: make(chan error, 1)}
	select {
	case d.reqs <- req:
	case <-d.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// the actor answers every request it took, and the answer tells whether
	// the file was written
	return <-req.resp
}

func (d *Document[T]) run() {
	for {
		select {
		case req := <-d.reqs:
			req.resp <- d.apply(req)
		case <-d.done:
			return
		}
	}
}

// apply runs one request. A context that ends before the write leaves the
// file untouched.
func (d *Document[T]) apply(req request[T]) error {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	v, err := d.load()
	if err != nil {
		return err
	}
	if err := req.fn(&v); err != nil {
		return err
	}
	if !req.write {
		return nil
	}
	if err := req.ctx.Err(); err != nil {
		return err
	}
	return d.save(v)
}

// load rereads the file on every operation because the external executor
// rewrites some of these files behind our back
func (d *Document[T]) load() (T, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return d.init(), nil
		}
		return d.init(), fmt.Errorf("%w: read %s: %v", model.ErrStorage, d.path, err)
	}
	if len(data) == 0 {
		return d.init(), nil
	}
	v, err := d.decode(data)
	if err != nil {
		if errors.Is(err, model.ErrStorage) {
			return d.init(), err
		}
		return d.init(), fmt.Errorf("%w: decode %s: %v", model.ErrStorage, d.path, err)
	}
	return v, nil
}

func (d *Document[T]) save(v T) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", model.ErrStorage, d.path, err)
	}
	if err := WriteFileAtomic(d.path, data, 0o644); err != nil {
		d.logger.Errorf("Failed to write document: %v", err)
		return fmt.Errorf("%w: write %s: %v", model.ErrStorage, d.path, err)
	}
	return nil
}

func decodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
