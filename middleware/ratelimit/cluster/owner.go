package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/rs/zerolog"
)

// Owner expõe um Evaluator (normalmente o infra.Coordinator) para delegates.
//
// Cada conexão é lida em ordem e cada consulta é respondida antes da próxima
// ser lida; entre conexões quem serializa é o próprio Evaluator.
type Owner struct {
	eval domain.Evaluator
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

type OwnerOption func(*Owner)

func WithOwnerLogger(l zerolog.Logger) OwnerOption {
	return func(o *Owner) { o.log = l }
}

func NewOwner(eval domain.Evaluator, opts ...OwnerOption) *Owner {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Owner{
		eval:   eval,
		log:    zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Listen cria o socket unix do owner, removendo um arquivo antigo no mesmo caminho.
func Listen(socketPath string) (net.Listener, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", socketPath)
}

// Serve aceita delegates até Close. Retorna nil quando fechado normalmente.
func (o *Owner) Serve(ln net.Listener) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = ln.Close()
		return domain.ErrClosed
	}
	o.ln = ln
	o.mu.Unlock()

	o.log.Info().Str("addr", ln.Addr().String()).Msg("rate limit owner listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if o.isClosed() {
				return nil
			}
			return err
		}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		o.conns[conn] = struct{}{}
		o.wg.Add(1)
		o.mu.Unlock()

		go o.handle(conn)
	}
}

func (o *Owner) handle(conn net.Conn) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.conns, conn)
		o.mu.Unlock()
		_ = conn.Close()
	}()

	o.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("delegate connected")

	dec := json.NewDecoder(bufio.NewReader(conn))
	enc := json.NewEncoder(conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !o.isClosed() {
				o.log.Warn().Err(err).Msg("delegate connection dropped")
			}
			return
		}
		if env.Query == nil {
			continue
		}

		res := o.answer(env.Query)
		if err := enc.Encode(Envelope{Result: res}); err != nil {
			if !o.isClosed() {
				o.log.Warn().Err(err).Str("id", res.ID).Msg("failed to send decision")
			}
			return
		}
	}
}

func (o *Owner) answer(m *QueryMessage) *ResponseMessage {
	q, err := decodeQuery(m)
	if err != nil {
		return &ResponseMessage{ID: m.ID, Error: err.Error()}
	}
	d, err := o.eval.Evaluate(o.ctx, q)
	if err != nil {
		return &ResponseMessage{ID: m.ID, Error: err.Error()}
	}
	d.ID = m.ID
	return encodeDecision(d)
}

func (o *Owner) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Close para de aceitar conexões, derruba as abertas e espera os handlers.
func (o *Owner) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.cancel()
	var err error
	if o.ln != nil {
		err = o.ln.Close()
	}
	for c := range o.conns {
		_ = c.Close()
	}
	o.mu.Unlock()

	o.wg.Wait()
	return err
}
