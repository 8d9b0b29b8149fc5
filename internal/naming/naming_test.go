package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"sales", "sales"},
		{"Exec Dashboard", "Exec_Dashboard"},
		{"Top 10: Sales/Markets", "Top_10_SalesMarkets"},
		{"Продажи", "Prodazhi"},
		{"rate (%)", "rate_(%)"},
		{"  padded  ", "padded"},
		{"a.b,c#[d]-e", "a.b,c#[d]-e"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, StableName(tt.in))
		})
	}
}

func TestTransliteratorRejectsEmpty(t *testing.T) {
	_, err := Transliterator{}.StableName("???")
	assert.ErrorIs(t, err, ErrEmptyStableName)

	name, err := Transliterator{}.StableName("Revenue")
	assert.NoError(t, err)
	assert.Equal(t, "Revenue", name)
}
