package pii

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "Sixteen digit card", in: "4111111111111111", want: "411111******1111"},
		{name: "Thirteen digit card", in: "4222222222222", want: "422222***2222"},
		{name: "Short value", in: "4111", want: "**11"},
		{name: "Two characters", in: "41", want: "**"},
		{name: "Empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskKey(tt.in))
		})
	}
}

func TestRedactor_RedactLine(t *testing.T) {
	redactor := NewRedactor([]string{"cvv", "expirationDate", " "})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "Redact fields and mask card number",
			in:   `{"cardData":{"cardNumber":"4111111111111111","cvv":"123","expirationDate":"12/29"}}`,
			want: `{"cardData":{"cardNumber":"411111******1111","cvv":"[REDACTED]","expirationDate":"[REDACTED]"}}`,
		},
		{
			name: "Truncated line is still masked",
			in:   `{"runId":"r1","cardData":{"cardNumber":"4111111111111111","cvv" : "99`,
			want: `{"runId":"r1","cardData":{"cardNumber":"411111******1111","cvv" : "99`,
		},
		{
			name: "Nothing sensitive",
			in:   `{"runId":"r1","msg":"hello"}`,
			want: `{"runId":"r1","msg":"hello"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactor.RedactLine(tt.in))
		})
	}
}

func TestRedactor_NoFields(t *testing.T) {
	redactor := NewRedactor(nil)
	assert.Equal(t, `{"cvv":"123"}`, redactor.RedactLine(`{"cvv":"123"}`))
}
