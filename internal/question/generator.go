package question

import (
	"math/rand"
	"sync"
	"time"

	"mathduel-service/internal/domain"
)

// Generator produces fixed-size sequences of arithmetic questions. Every
// generated question has an exact, non-negative integer answer by
// construction: subtraction orders its operands larger-first and division
// picks divisor and quotient before computing the dividend.
type Generator struct {
	operandMax int
	timeLimit  int
	operators  []domain.Operator

	mu  sync.Mutex // guards rnd; lobbies generate concurrently
	rnd *rand.Rand
}

// Config tunes a Generator. Zero values fall back to the defaults the game
// has always used (operands 1..20, 30s per question, add/subtract).
type Config struct {
	OperandMax int
	TimeLimit  int
	Operators  []domain.Operator
	Seed       int64 // 0 means seed from the clock
}

const (
	defaultOperandMax = 20
	defaultTimeLimit  = 30
)

func NewGenerator(cfg Config) *Generator {
	if cfg.OperandMax <= 0 {
		cfg.OperandMax = defaultOperandMax
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = defaultTimeLimit
	}
	if len(cfg.Operators) == 0 {
		cfg.Operators = []domain.Operator{domain.OpAdd, domain.OpSubtract}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		operandMax: cfg.OperandMax,
		timeLimit:  cfg.TimeLimit,
		operators:  cfg.Operators,
		rnd:        rand.New(rand.NewSource(seed)),
	}
}

// Generate returns count questions with 0-based sequence IDs. Sequences are
// independently randomized per call; nothing is deduplicated across lobbies.
func (g *Generator) Generate(count int) []domain.Question {
	g.mu.Lock()
	defer g.mu.Unlock()

	questions := make([]domain.Question, 0, count)
	for i := 0; i < count; i++ {
		q := g.next()
		q.ID = i
		questions = append(questions, q)
	}
	return questions
}

func (g *Generator) next() domain.Question {
	op := g.operators[g.rnd.Intn(len(g.operators))]

	var a, b, answer int
	switch op {
	case domain.OpSubtract:
		a = g.operand()
		b = g.operand()
		if b > a {
			a, b = b, a
		}
		answer = a - b
	case domain.OpMultiply:
		a = g.operand()
		b = g.operand()
		answer = a * b
	case domain.OpDivide:
		// Divisor and quotient first, so the dividend divides exactly and
		// the divisor can never be zero.
		b = g.operand()
		answer = g.operand()
		a = b * answer
	default:
		a = g.operand()
		b = g.operand()
		answer = a + b
	}

	return domain.Question{
		OperandA:  a,
		OperandB:  b,
		Operator:  op,
		Answer:    answer,
		TimeLimit: g.timeLimit,
	}
}

// operand returns a value in [1, operandMax].
func (g *Generator) operand() int {
	return g.rnd.Intn(g.operandMax) + 1
}
