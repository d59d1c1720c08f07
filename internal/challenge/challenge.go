// Package challenge generates and validates human-verification challenges.
//
// Four challenge families are supported: contextual arithmetic, word
// problems, number-sequence patterns, and image prompts. Generation is
// driven by an injected random source so tests can pin the sequence.
// Validation is forgiving about whitespace and letter case; it is the
// surrounding signals, not the puzzle, that carry the security weight.
package challenge

import (
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/verigate/internal/idgen"
)

// Kind identifies a challenge family.
type Kind string

const (
	KindArithmetic  Kind = "arithmetic"
	KindWordProblem Kind = "word-problem"
	KindPattern     Kind = "pattern"
	KindImage       Kind = "image"
)

// Kinds lists the families in generation order.
var Kinds = []Kind{KindArithmetic, KindWordProblem, KindPattern, KindImage}

// Challenge is a single puzzle presented to a client. The expected answer
// stays unexported; callers check submissions through Validate.
type Challenge struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	Prompt     string `json:"prompt"`
	Difficulty string `json:"difficulty"`
	// Image names the client-rendered scene for image challenges
	// ("circles", "colors", "polygon").
	Image    string    `json:"image,omitempty"`
	IssuedAt time.Time `json:"issuedAt"`

	answer string
}

// Validate reports whether the submission matches the expected answer.
// Comparison trims surrounding whitespace and ignores letter case.
func (c Challenge) Validate(submission string) bool {
	return strings.EqualFold(strings.TrimSpace(submission), c.answer)
}

type wordProblem struct {
	text    string
	answer  string
	context string
}

var wordProblems = []wordProblem{
	{
		text:    "A recipe calls for 3 cups of flour. If you want to make 4 batches, how many cups do you need?",
		answer:  "12",
		context: "cooking",
	},
	{
		text:    "You have $25 and spend $8 on lunch. How much money do you have left?",
		answer:  "17",
		context: "money",
	},
	{
		text:    "A car travels 60 miles in 2 hours. How many miles per hour is it going?",
		answer:  "30",
		context: "travel",
	},
	{
		text:    "If a rectangle has length 7 and width 5, what is its area?",
		answer:  "35",
		context: "geometry",
	},
	{
		text:    "You have 15 apples and give 3 to each of 4 friends. How many apples do you have left?",
		answer:  "3",
		context: "sharing",
	},
}

type patternSequence struct {
	question string
	answer   string
	rule     string
}

var patternSequences = []patternSequence{
	{
		question: "What comes next: 2, 4, 8, 16, ?",
		answer:   "32",
		rule:     "multiply by 2",
	},
	{
		question: "What comes next: 1, 3, 6, 10, ?",
		answer:   "15",
		rule:     "add increasing numbers",
	},
	{
		question: "What comes next: 3, 6, 12, 24, ?",
		answer:   "48",
		rule:     "multiply by 2",
	},
	{
		question: "What comes next: 1, 4, 9, 16, ?",
		answer:   "25",
		rule:     "perfect squares",
	},
}

type imagePrompt struct {
	question string
	answer   string
	image    string
}

var imagePrompts = []imagePrompt{
	{question: "How many circles do you see?", answer: "3", image: "circles"},
	{question: "What color is the largest shape?", answer: "blue", image: "colors"},
	{question: "How many sides does the polygon have?", answer: "6", image: "polygon"},
}

// Generator produces challenges from an injected random source and clock.
type Generator struct {
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithRand overrides the random source (for tests).
func WithRand(rng *rand.Rand) Option {
	return func(g *Generator) { g.rng = rng }
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a challenge generator.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- puzzle variety, not crypto
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate picks a random family and produces a challenge from it.
func (g *Generator) Generate() Challenge {
	return g.GenerateKind(Kinds[g.rng.Intn(len(Kinds))])
}

// GenerateKind produces a challenge of the given family. Unknown kinds
// fall back to arithmetic.
func (g *Generator) GenerateKind(kind Kind) Challenge {
	var c Challenge
	switch kind {
	case KindWordProblem:
		p := wordProblems[g.rng.Intn(len(wordProblems))]
		c = Challenge{
			Kind:       KindWordProblem,
			Prompt:     p.text,
			Difficulty: "hard",
			answer:     p.answer,
		}
	case KindPattern:
		p := patternSequences[g.rng.Intn(len(patternSequences))]
		c = Challenge{
			Kind:       KindPattern,
			Prompt:     p.question,
			Difficulty: "hard",
			answer:     p.answer,
		}
	case KindImage:
		p := imagePrompts[g.rng.Intn(len(imagePrompts))]
		c = Challenge{
			Kind:       KindImage,
			Prompt:     p.question,
			Difficulty: "medium",
			Image:      p.image,
			answer:     p.answer,
		}
	default:
		c = g.arithmetic()
	}

	c.ID = idgen.WithPrefix("chl_")
	c.IssuedAt = g.now()
	return c
}

var operations = []struct {
	op   string
	desc string
}{
	{"+", "add"},
	{"-", "subtract"},
	{"×", "multiply"},
	{"÷", "divide"},
}

// arithmetic builds a contextual math question. Division operands are
// redrawn until they divide cleanly.
func (g *Generator) arithmetic() Challenge {
	for {
		op := operations[g.rng.Intn(len(operations))]
		num1 := g.rng.Intn(50) + 10
		num2 := g.rng.Intn(20) + 5

		var result int
		switch op.op {
		case "+":
			result = num1 + num2
		case "-":
			result = num1 - num2
		case "×":
			result = num1 * num2
		case "÷":
			if num1%num2 != 0 {
				continue
			}
			result = num1 / num2
		}

		return Challenge{
			Kind:       KindArithmetic,
			Prompt:     "If you " + op.desc + " " + strconv.Itoa(num1) + " and " + strconv.Itoa(num2) + ", what do you get?",
			Difficulty: "medium",
			answer:     strconv.Itoa(result),
		}
	}
}
