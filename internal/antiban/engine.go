package antiban

import (
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// ============================================
// TIMING
// ============================================

// Pacer computes the pause between two sends. The floor is enforced no
// matter what delay the caller asks for.
type Pacer struct {
	Floor  time.Duration
	Jitter time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPacer creates a pacer with its own random source.
func NewPacer(floor, jitter time.Duration) *Pacer {
	return &Pacer{
		Floor:  floor,
		Jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Delay returns max(Floor, requested ± Jitter).
func (p *Pacer) Delay(requested time.Duration) time.Duration {
	d := requested
	if p.Jitter > 0 {
		p.mu.Lock()
		offset := time.Duration(p.rnd.Int63n(int64(2*p.Jitter)+1)) - p.Jitter
		p.mu.Unlock()
		d += offset
	}
	if d < p.Floor {
		d = p.Floor
	}
	return d
}

// Seconds converts a fractional seconds value (as sent by API clients) to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ============================================
// MESSAGE VARIATION
// ============================================

// Variator applies optional per-message variation.
type Variator struct {
	// GreetingChance is the probability of swapping the opening greeting.
	GreetingChance float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewVariator creates a variator. A zero chance disables greeting swaps.
func NewVariator(greetingChance float64) *Variator {
	return &Variator{
		GreetingChance: greetingChance,
		rnd:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

var greetings = []struct {
	word       string
	variations []string
}{
	{"Hello", []string{"Hi", "Hey", "Hello", "Greetings"}},
	{"Hi", []string{"Hello", "Hey", "Hi there"}},
	{"Dear", []string{"Hello", "Hi", "Dear"}},
}

// Apply resolves spin tags and, with GreetingChance probability, swaps a
// known greeting that opens the message as a whole word.
func (v *Variator) Apply(message string) string {
	v.mu.Lock()
	defer v.mu.Unlock()

	result := spinTags(message, v.rnd)
	if v.GreetingChance <= 0 || v.rnd.Float64() >= v.GreetingChance {
		return result
	}
	lead := len(result) - len(strings.TrimLeftFunc(result, unicode.IsSpace))
	for _, g := range greetings {
		if rest, ok := cutWord(result[lead:], g.word); ok {
			return result[:lead] + g.variations[v.rnd.Intn(len(g.variations))] + rest
		}
	}
	return result
}

// cutWord strips word from the start of s when it is not followed by a
// letter or digit.
func cutWord(s, word string) (string, bool) {
	rest, ok := strings.CutPrefix(s, word)
	if !ok {
		return s, false
	}
	if r, _ := utf8.DecodeRuneInString(rest); rest != "" && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return s, false
	}
	return rest, true
}

// SpinTags replaces {option1|option2|option3} with a random choice.
// Braces without a "|" are left untouched.
func SpinTags(message string) string {
	return spinTags(message, rand.New(rand.NewSource(time.Now().UnixNano())))
}

func spinTags(message string, rnd *rand.Rand) string {
	var b strings.Builder
	rest := message
	for {
		start := strings.Index(rest, "{")
		if start == -1 {
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			break
		}
		end += start

		inner := rest[start+1 : end]
		b.WriteString(rest[:start])
		if strings.Contains(inner, "|") {
			options := strings.Split(inner, "|")
			b.WriteString(options[rnd.Intn(len(options))])
		} else {
			b.WriteString(rest[start : end+1])
		}
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}
