package application

import (
	"context"
	"errors"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/rs/xid"
)

// Request é o que a camada HTTP sabe sobre a requisição.
type Request struct {
	IP     string
	Method string
	Path   string
}

// Outcome é a decisão do Evaluator ou, quando ele falhou, o erro e o que fazer
// com a requisição segundo a política configurada.
type Outcome struct {
	Decision domain.Decision
	Err      error
	// Proceed indica se a requisição segue para o próximo handler.
	Proceed bool
}

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	Evaluator domain.Evaluator
	Rule      domain.RuleConfig

	// Timeout limita a espera pelo Evaluator. Zero = sem limite próprio.
	Timeout time.Duration
	// FailOpen define o destino da requisição quando a avaliação falha
	// (timeout, owner fora do ar, sobrecarga).
	FailOpen bool
	// InFlight limita consultas simultâneas aguardando o Evaluator. Nil = sem limite.
	InFlight domain.SlotPool

	Now   func() time.Time
	NewID func() string
}

func (s Service) Decide(ctx context.Context, req Request) Outcome {
	if s.Evaluator == nil {
		return Outcome{Decision: domain.Decision{Kind: domain.KindWhitelisted}, Proceed: true}
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.NewID == nil {
		s.NewID = func() string { return xid.New().String() }
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if s.InFlight != nil {
		release, ok := s.InFlight.Acquire(ctx)
		if !ok {
			return s.failed(domain.ErrOverloaded)
		}
		defer release()
	}

	q := domain.Query{
		ID:        s.NewID(),
		IP:        req.IP,
		Method:    req.Method,
		Path:      req.Path,
		Timestamp: s.Now(),
		Rule:      s.Rule,
	}

	dec, err := s.Evaluator.Evaluate(ctx, q)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(domain.ErrTransportTimeout, err)
		}
		return s.failed(err)
	}
	return Outcome{Decision: dec, Proceed: dec.Continue()}
}

func (s Service) failed(err error) Outcome {
	return Outcome{Err: err, Proceed: s.FailOpen}
}
