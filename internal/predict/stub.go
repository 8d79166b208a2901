package predict

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/insurepredict/internal/config"
	"github.com/kalambet/insurepredict/internal/schema"
)

// StubKind selects the distribution of placeholder responses.
type StubKind int

const (
	// StubBinary draws 0 or 1 with equal probability.
	StubBinary StubKind = iota
	// StubContinuous draws uniformly from [0, 1).
	StubContinuous
)

func (k StubKind) String() string {
	if k == StubContinuous {
		return config.StubContinuous
	}
	return config.StubBinary
}

func ParseStubKind(s string) (StubKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case config.StubBinary, "":
		return StubBinary, nil
	case config.StubContinuous:
		return StubContinuous, nil
	}
	return 0, fmt.Errorf("unknown stub response kind %q", s)
}

// Stub is a placeholder predictor. Its values are random draws, not model
// output; it exists so the UI works with no service configured.
type Stub struct {
	kind   StubKind
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewStub creates a placeholder predictor. A nil src seeds from the
// runtime's random source.
func NewStub(kind StubKind, src rand.Source) *Stub {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Stub{
		kind:   kind,
		logger: slog.Default(),
		rng:    rand.New(src),
	}
}

func (s *Stub) Mode() string { return config.ModeStub }

func (s *Stub) Predict(ctx context.Context, req Request) (rows []schema.Row, err error) {
	start := time.Now()
	defer func() { observe(s.logger, s.Mode(), start, len(req.Rows), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.logger.Info("using placeholder predictor; responses are random", "kind", s.kind.String(), "rows", len(req.Rows))

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]schema.Row, len(req.Rows))
	for i, row := range req.Rows {
		out[i] = row.WithResponse(s.draw())
	}
	return out, nil
}

func (s *Stub) draw() schema.Number {
	if s.kind == StubContinuous {
		return schema.Number(s.rng.Float64())
	}
	return schema.Number(s.rng.IntN(2))
}
