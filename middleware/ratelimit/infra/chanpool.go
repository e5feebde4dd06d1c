package infra

import (
	"context"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// chanPool é um semáforo em channel: cada vaga é um slot no buffer.
type chanPool struct {
	sem chan struct{}
}

// NewChanPool limita a max as consultas aguardando o Evaluator. max <= 0
// devolve nil, que o application.Service trata como sem limite.
func NewChanPool(max int) domain.SlotPool {
	if max <= 0 {
		return nil
	}
	return &chanPool{sem: make(chan struct{}, max)}
}

func (p *chanPool) Acquire(ctx context.Context) (func(), bool) {
	// ctx já encerrado não pega vaga, mesmo que haja uma livre.
	if ctx.Err() != nil {
		return nil, false
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}

	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }, true
}

// InUse e Cap existem para diagnóstico e testes.
func (p *chanPool) InUse() int { return len(p.sem) }

func (p *chanPool) Cap() int { return cap(p.sem) }
