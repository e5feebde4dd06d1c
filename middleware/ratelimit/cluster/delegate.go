package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 2 * time.Second

type reply struct {
	dec domain.Decision
	err error
}

// Delegate é um domain.Evaluator sem estado local: cada consulta vai para o
// owner e a resposta volta roteada pelo id.
type Delegate struct {
	conn    net.Conn
	timeout time.Duration
	log     zerolog.Logger

	writeMu sync.Mutex
	enc     *json.Encoder

	mu      sync.Mutex
	pending map[string]chan reply
	closed  bool
	err     error

	unmatched atomic.Int64
	warnEvery rate.Sometimes
	done      chan struct{}
}

type DelegateOption func(*Delegate)

// WithTimeout limita a espera por uma resposta. Zero desliga o limite e a
// espera dura até o ctx do chamador terminar.
func WithTimeout(d time.Duration) DelegateOption {
	return func(dl *Delegate) { dl.timeout = d }
}

func WithDelegateLogger(l zerolog.Logger) DelegateOption {
	return func(dl *Delegate) { dl.log = l }
}

// Dial conecta no owner (ex: network "unix", addr = caminho do socket).
func Dial(ctx context.Context, network, addr string, opts ...DelegateOption) (*Delegate, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: dial owner %s: %w", addr, err)
	}
	return NewDelegate(conn, opts...), nil
}

// NewDelegate assume a conexão e inicia a leitura das respostas.
func NewDelegate(conn net.Conn, opts ...DelegateOption) *Delegate {
	d := &Delegate{
		conn:      conn,
		timeout:   DefaultTimeout,
		log:       zerolog.Nop(),
		enc:       json.NewEncoder(conn),
		pending:   make(map[string]chan reply),
		warnEvery: rate.Sometimes{First: 1, Interval: 10 * time.Second},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.readLoop()
	return d
}

// Evaluate implementa domain.Evaluator.
//
// Toda consulta sai com um id novo; o ID do chamador nunca vai para o fio e é
// devolvido na Decision. Sem ID do chamador, a Decision leva o id do fio.
func (d *Delegate) Evaluate(ctx context.Context, q domain.Query) (domain.Decision, error) {
	callerID := q.ID
	q.ID = xid.New().String()
	if callerID == "" {
		callerID = q.ID
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}

	ch := make(chan reply, 1)
	d.mu.Lock()
	if d.closed {
		err := d.err
		d.mu.Unlock()
		return domain.Decision{}, err
	}
	d.pending[q.ID] = ch
	d.mu.Unlock()
	defer d.forget(q.ID)

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.send(ctx, Envelope{Query: encodeQuery(q)}); err != nil {
		return domain.Decision{}, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return domain.Decision{}, r.err
		}
		r.dec.ID = callerID
		return r.dec, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Decision{}, fmt.Errorf("%w (query %s)", domain.ErrTransportTimeout, callerID)
		}
		return domain.Decision{}, ctx.Err()
	}
}

func (d *Delegate) send(ctx context.Context, env Envelope) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
		defer func() { _ = d.conn.SetWriteDeadline(time.Time{}) }()
	}
	if err := d.enc.Encode(env); err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return fmt.Errorf("%w (query %s)", domain.ErrTransportTimeout, env.Query.ID)
		}
		return fmt.Errorf("ratelimit: send query: %w", err)
	}
	return nil
}

func (d *Delegate) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

func (d *Delegate) readLoop() {
	defer close(d.done)

	dec := json.NewDecoder(bufio.NewReader(d.conn))
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			d.fail(err)
			return
		}
		if env.Result == nil {
			continue
		}
		d.route(env.Result)
	}
}

func (d *Delegate) route(m *ResponseMessage) {
	d.mu.Lock()
	ch, ok := d.pending[m.ID]
	if ok {
		delete(d.pending, m.ID)
	}
	d.mu.Unlock()

	if !ok {
		d.unmatched.Add(1)
		d.warnEvery.Do(func() {
			d.log.Debug().Str("id", m.ID).Err(domain.ErrUnmatchedResponse).Msg("ignoring response")
		})
		return
	}

	dec, err := decodeDecision(m)
	ch <- reply{dec: dec, err: err}
}

// fail encerra o delegate quando a conexão com o owner cai. Consultas
// pendentes recebem o erro imediatamente; não há reconexão.
func (d *Delegate) fail(cause error) {
	d.mu.Lock()
	wasClosed := d.closed
	d.closed = true
	if d.err == nil {
		d.err = fmt.Errorf("%w: connection to owner lost: %v", domain.ErrClosed, cause)
	}
	pending := d.pending
	d.pending = make(map[string]chan reply)
	err := d.err
	d.mu.Unlock()

	if !wasClosed {
		d.log.Warn().Err(cause).Msg("rate limit owner connection lost")
	}
	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

// Unmatched conta respostas recebidas sem consulta pendente (atrasadas ou duplicadas).
func (d *Delegate) Unmatched() int64 { return d.unmatched.Load() }

func (d *Delegate) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.err = domain.ErrClosed
	d.mu.Unlock()

	err := d.conn.Close()
	<-d.done
	return err
}
