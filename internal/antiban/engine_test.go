package antiban

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerEnforcesFloor(t *testing.T) {
	p := NewPacer(2*time.Second, 0)
	assert.Equal(t, 2*time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(500*time.Millisecond))
	assert.Equal(t, 5*time.Second, p.Delay(5*time.Second))
}

func TestPacerJitterStaysInRange(t *testing.T) {
	p := NewPacer(time.Second, 300*time.Millisecond)
	for i := 0; i < 200; i++ {
		d := p.Delay(3 * time.Second)
		assert.GreaterOrEqual(t, d, 2700*time.Millisecond)
		assert.LessOrEqual(t, d, 3300*time.Millisecond)
	}
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, p.Delay(0), time.Second)
	}
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 2500*time.Millisecond, Seconds(2.5))
}

func TestSpinTagsLeavesPlaceholders(t *testing.T) {
	out := SpinTags("{Hi|Hi} {name}, see you {soon|soon}")
	assert.Equal(t, "Hi {name}, see you soon", out)
	assert.Equal(t, "unclosed {brace", SpinTags("unclosed {brace"))
}

func TestVariatorGreeting(t *testing.T) {
	always := NewVariator(1)
	out := always.Apply("Dear Asha")
	assert.Contains(t, []string{"Hello Asha", "Hi Asha", "Dear Asha"}, out)

	// Only the opening word is swapped.
	out = always.Apply("  Hello Hello, Asha")
	assert.Contains(t, []string{
		"  Hi Hello, Asha", "  Hey Hello, Asha", "  Hello Hello, Asha", "  Greetings Hello, Asha",
	}, out)

	out = always.Apply("Hi, Asha")
	assert.Contains(t, []string{"Hello, Asha", "Hey, Asha", "Hi there, Asha"}, out)

	// Greetings inside or after other words stay untouched.
	assert.Equal(t, "Hiking trip on Sunday", always.Apply("Hiking trip on Sunday"))
	assert.Equal(t, "Order ready. Hello from the shop", always.Apply("Order ready. Hello from the shop"))

	never := NewVariator(0)
	assert.Equal(t, "Hello Asha", never.Apply("Hello Asha"))
}
