package bulk

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonalize(t *testing.T) {
	now := time.Date(2025, 12, 24, 9, 7, 0, 0, time.UTC)
	c := Contact{Index: 3, Name: "Ravi", Phone: "9876543210"}

	out := Personalize("{name} ({phone}) #{index}: {day} {date} {time} {unknown}", c, now)
	assert.Equal(t, "Ravi (9876543210) #3: Wednesday 24/12/2025 09:07 {unknown}", out)
}

func TestResolveMessage(t *testing.T) {
	msg, err := ResolveMessage("custom", "greeting")
	require.NoError(t, err)
	assert.Equal(t, "custom", msg)

	msg, err = ResolveMessage("  ", "Followup")
	require.NoError(t, err)
	assert.Equal(t, Templates["followup"], msg)

	_, err = ResolveMessage("", "nope")
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestContactDecoding(t *testing.T) {
	var in []Contact
	require.NoError(t, json.Unmarshal([]byte(`[
		{"name":" Asha ","phone":9876543210,"row":12},
		{"phone":"+44 7700 900123"},
		{"phone":null,"status":"Sent"}
	]`), &in))

	out := normalizeContacts(in)
	require.Len(t, out, 3)

	assert.Equal(t, "Asha", out[0].Name)
	assert.Equal(t, FlexString("9876543210"), out[0].Phone)
	assert.Equal(t, 1, out[0].Index)
	assert.JSONEq(t, `12`, string(out[0].Row))
	assert.Equal(t, "Pending", out[0].Status)

	assert.Equal(t, "Contact 2", out[1].Name)
	assert.Equal(t, FlexString("+44 7700 900123"), out[1].Phone)
	assert.JSONEq(t, `3`, string(out[1].Row))

	assert.Equal(t, FlexString(""), out[2].Phone)
	assert.Equal(t, "Sent", out[2].Status)
}

func TestFlexStringRejectsObjects(t *testing.T) {
	var c Contact
	assert.Error(t, json.Unmarshal([]byte(`{"phone":{"n":1}}`), &c))
}
