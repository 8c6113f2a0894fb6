package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketNumberString(t *testing.T) {
	assert.Equal(t, "000", TicketNumber(0).String())
	assert.Equal(t, "017", TicketNumber(17).String())
	assert.Equal(t, "999", TicketNumber(999).String())
}

func TestParseTicketNumber(t *testing.T) {
	n, err := ParseTicketNumber("042")
	require.NoError(t, err)
	assert.Equal(t, TicketNumber(42), n)

	n, err = ParseTicketNumber(" 7 ")
	require.NoError(t, err)
	assert.Equal(t, TicketNumber(7), n)

	for _, bad := range []string{"", "1000", "-1", "abc"} {
		_, err := ParseTicketNumber(bad)
		assert.ErrorIs(t, err, ErrTicketOutOfRange, bad)
	}
}

func TestTicketNumberJSON(t *testing.T) {
	var body struct {
		Numbers []TicketNumber `json:"numbers"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"numbers":[17,"042","5"]}`), &body))
	assert.Equal(t, []TicketNumber{17, 42, 5}, body.Numbers)

	out, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"numbers":["017","042","005"]}`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`{"numbers":[1000]}`), &body))
}

func TestNormalizeSelection(t *testing.T) {
	out, err := NormalizeSelection([]TicketNumber{42, 17, 999})
	require.NoError(t, err)
	assert.Equal(t, []TicketNumber{17, 42, 999}, out)

	_, err = NormalizeSelection(nil)
	assert.ErrorIs(t, err, ErrEmptySelection)

	_, err = NormalizeSelection([]TicketNumber{1, 1000})
	assert.ErrorIs(t, err, ErrTicketOutOfRange)

	_, err = NormalizeSelection([]TicketNumber{42, 17, 42})
	assert.ErrorIs(t, err, ErrDuplicateSelection)
}

func TestJoinSplitNumbers(t *testing.T) {
	s := JoinNumbers([]TicketNumber{17, 42})
	assert.Equal(t, "017,042", s)

	back, err := SplitNumbers(s)
	require.NoError(t, err)
	assert.Equal(t, []TicketNumber{17, 42}, back)

	empty, err := SplitNumbers("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNormalizeNationalID(t *testing.T) {
	cases := map[string]string{
		"V-28184233":   "V-28184233",
		"v28184233":    "V-28184233",
		"28184233":     "V-28184233",
		"E - 1234567":  "E-1234567",
		"V-12.345.678": "V-12345678",
	}
	for in, want := range cases {
		got, err := NormalizeNationalID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "V-12", "X-12345678", "V-12a45678"} {
		_, err := NormalizeNationalID(bad)
		assert.ErrorIs(t, err, ErrInvalidNationalID, bad)
	}
}

func TestBuyerValidate(t *testing.T) {
	b := BuyerInfo{Name: " Ana ", NationalID: "v12345678", Phone: "04121234567", Address: "Caracas"}
	require.NoError(t, b.Validate())
	assert.Equal(t, "Ana", b.Name)
	assert.Equal(t, "V-12345678", b.NationalID)

	b.Phone = ""
	assert.Error(t, b.Validate())
}
