package tools

import "context"

// Source supplies tools discovered at turn start, such as a remote tool
// server. The executor does not know where a definition came from.
type Source interface {
	Name() string
	Tools(ctx context.Context) ([]Definition, error)
}

// StaticSource serves a fixed list of definitions.
type StaticSource struct {
	SourceName  string
	Definitions []Definition
}

func (s StaticSource) Name() string { return s.SourceName }

func (s StaticSource) Tools(context.Context) ([]Definition, error) {
	return append([]Definition(nil), s.Definitions...), nil
}

// SourceFunc adapts a function to Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) ([]Definition, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Tools(ctx context.Context) ([]Definition, error) {
	return s.Fn(ctx)
}
