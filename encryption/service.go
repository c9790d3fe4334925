// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package encryption

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docvault/core"
)

// Mode is the execution strategy of a Service.
type Mode int32

const (
	// ModeOffloaded runs operations on the worker pool.
	ModeOffloaded Mode = iota
	// ModeInline runs operations on the calling goroutine.
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeOffloaded:
		return "offloaded"
	case ModeInline:
		return "inline"
	default:
		return fmt.Sprintf("Mode(%d)", int32(m))
	}
}

var errWorkerPanic = errors.New("encryption worker panicked")

// outcome is the reply to one offloaded request.
type outcome struct {
	value    any
	err      error
	panicked bool
}

// Service seals and opens payloads with AES-256-GCM and computes checksums.
//
// Operations are first submitted to a worker pool. The first failure of the
// pool itself (submission error, closed pool, worker panic) switches the
// service to inline execution for the rest of its life and the failed
// request is re-run inline. Cryptographic errors are ordinary results and
// never cause a switch.
type Service struct {
	pool    *ants.Pool
	mode    atomic.Int32
	mu      sync.Mutex
	pending map[string]chan outcome
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithPoolSize sets the worker pool size.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(s *Service) error {
		if size < 1 {
			size = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		s.pool = pool
		return nil
	}
}

// WithInline starts the service in inline mode without a worker pool.
func WithInline() Option {
	return func(s *Service) error {
		if s.pool != nil {
			s.pool.Release()
			s.pool = nil
		}
		s.mode.Store(int32(ModeInline))
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewService creates an encryption service.
func NewService(opts ...Option) (*Service, error) {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	s := &Service{
		pool:    pool,
		pending: make(map[string]chan outcome),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if optErr := opt(s); optErr != nil {
			s.Release()
			return nil, optErr
		}
	}
	return s, nil
}

// Release stops the worker pool. Later operations run inline.
func (s *Service) Release() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Mode reports the current execution strategy.
func (s *Service) Mode() Mode {
	return Mode(s.mode.Load())
}

// Encrypt serializes v to canonical JSON and seals it with key under a
// fresh random IV. The result is base64(IV || ciphertext || tag).
func (s *Service) Encrypt(ctx context.Context, v any, key []byte) (string, error) {
	res, err := s.run(ctx, func() (any, error) {
		plaintext, err := CanonicalJSON(v)
		if err != nil {
			return nil, err
		}
		return seal(plaintext, key)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// Decrypt opens ciphertext with key and decodes the plaintext into out,
// which must be a non-nil pointer. Returns core.ErrDecryptionFailed when
// authentication or decoding fails; out is only assigned on success.
func (s *Service) Decrypt(ctx context.Context, ciphertext string, key []byte, out any) error {
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("decrypt: out must be a non-nil pointer, got %T", out)
	}
	res, err := s.run(ctx, func() (any, error) {
		return open(ciphertext, key)
	})
	if err != nil {
		return err
	}
	decoded := reflect.New(dst.Type().Elem())
	if err := json.Unmarshal(res.([]byte), decoded.Interface()); err != nil {
		return fmt.Errorf("%w: decode plaintext: %w", core.ErrDecryptionFailed, err)
	}
	dst.Elem().Set(decoded.Elem())
	return nil
}

// Checksum returns the hex SHA-256 of the canonical JSON form of v.
func (s *Service) Checksum(ctx context.Context, v any) (string, error) {
	res, err := s.run(ctx, func() (any, error) {
		return checksum(v)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// run executes job according to the current mode.
func (s *Service) run(ctx context.Context, job func() (any, error)) (any, error) {
	if s.Mode() == ModeInline || s.pool == nil {
		return runInline(job)
	}

	id := uuid.NewString()
	reply := make(chan outcome, 1)
	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()

	if err := s.pool.Submit(func() { s.execute(id, job) }); err != nil {
		s.take(id)
		s.fallback(err)
		return runInline(job)
	}

	select {
	case out := <-reply:
		if out.panicked {
			s.fallback(out.err)
			return runInline(job)
		}
		return out.value, out.err
	case <-ctx.Done():
		s.take(id)
		return nil, ctx.Err()
	}
}

// execute runs job on a worker and delivers the outcome to the request's
// reply channel, if the request is still pending.
func (s *Service) execute(id string, job func() (any, error)) {
	var out outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("%w: %v", errWorkerPanic, r), panicked: true}
			}
		}()
		out.value, out.err = job()
	}()

	if reply := s.take(id); reply != nil {
		reply <- out
	}
}

// take removes and returns the reply channel for id, or nil when the
// request was already answered or abandoned.
func (s *Service) take(id string) chan outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	reply, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return reply
}

// fallback moves the service to inline mode. The transition happens once.
func (s *Service) fallback(cause error) {
	if s.mode.CompareAndSwap(int32(ModeOffloaded), int32(ModeInline)) {
		s.logger.Warn("encryption worker pool unavailable, falling back to inline execution", "error", cause)
	}
}

func runInline(job func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("%w: %v", errWorkerPanic, r)
		}
	}()
	return job()
}
