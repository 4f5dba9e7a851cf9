package bulk

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNoMessage is returned when neither a message nor a known template was given.
var ErrNoMessage = errors.New("message or template is required")

// Templates are the built-in messages selectable by name.
var Templates = map[string]string{
	"promotional":  "Hello {name}, this is a promotional message from our company. Contact us for more details!",
	"notification": "Dear {name}, this is an important notification. Please check your account.",
	"greeting":     "Hi {name}, hope you're having a great day! Just wanted to connect with you.",
	"followup":     "Hello {name}, following up on our previous conversation. Let me know if you need any assistance.",
}

// ResolveMessage returns message, or the named template when message is blank.
func ResolveMessage(message, template string) (string, error) {
	if strings.TrimSpace(message) != "" {
		return message, nil
	}
	if t, ok := Templates[strings.ToLower(strings.TrimSpace(template))]; ok {
		return t, nil
	}
	return "", ErrNoMessage
}

// Personalize fills the placeholders {name}, {phone}, {index}, {date},
// {time} and {day} for one contact.
func Personalize(tmpl string, c Contact, now time.Time) string {
	return strings.NewReplacer(
		"{name}", c.Name,
		"{phone}", string(c.Phone),
		"{index}", strconv.Itoa(c.Index),
		"{date}", now.Format("02/01/2006"),
		"{time}", now.Format("15:04"),
		"{day}", now.Format("Monday"),
	).Replace(tmpl)
}
