package parser

import (
	"fmt"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// providerPool hands out tree-sitter parsers for one language. A parser is
// used by one parse at a time; idle parsers are kept up to the pool's size
// and closed beyond it.
type providerPool struct {
	grammar *sitter.Language
	idle    chan *sitter.Parser

	mu     sync.Mutex
	closed bool
}

func newProviderPool(grammar *sitter.Language, size int) *providerPool {
	if size <= 0 {
		size = 1
	}
	return &providerPool{grammar: grammar, idle: make(chan *sitter.Parser, size)}
}

func (p *providerPool) get() (*sitter.Parser, error) {
	select {
	case ps := <-p.idle:
		return ps, nil
	default:
	}
	ps := sitter.NewParser()
	if err := ps.SetLanguage(p.grammar); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to set parser language: %w", err)
	}
	return ps, nil
}

func (p *providerPool) put(ps *sitter.Parser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		ps.Close()
		return
	}
	select {
	case p.idle <- ps:
	default:
		ps.Close()
	}
}

func (p *providerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for {
		select {
		case ps := <-p.idle:
			ps.Close()
		default:
			return
		}
	}
}
