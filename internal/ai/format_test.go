package ai

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatAnswer(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "dates dollars and punctuation",
			in:   "TVL reached $1,234,567 on 2024-03-05 , up 12 %",
			want: "TVL reached $1.23M on March 5, 2024, up 12%",
		},
		{name: "small amounts untouched", in: "Fees were $9,999.50 today", want: "Fees were $9,999.50 today"},
		{name: "threshold", in: "$10000", want: "$10K"},
		{name: "billions", in: "Supply is $2,500,000,000.", want: "Supply is $2.5B."},
		{name: "trillions", in: "$3,200,000,000,000 market", want: "$3.2T market"},
		{name: "already abbreviated", in: "about $45M in TVL", want: "about $45M in TVL"},
		{name: "invalid date kept", in: "on 2024-13-45", want: "on 2024-13-45"},
		{name: "space runs", in: "  a   b\t\tc  ", want: "a b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAnswer(tt.in))
		})
	}
}

func TestStreamFormatter_MatchesSingleShot(t *testing.T) {
	texts := []string{
		"TVL reached $1,234,567 on 2024-03-05 , up 12 %",
		"  leading and trailing  ",
		"- Aave: $12,500,000,000 (2024-01-02)\n- Compound:  $850,000 ,  3.1 %\n",
		"no-whitespace-at-all$25000",
		"",
		"   ",
	}
	for _, text := range texts {
		for size := 1; size <= 9; size++ {
			var sf streamFormatter
			var b strings.Builder
			runes := []rune(text)
			for i := 0; i < len(runes); i += size {
				b.WriteString(sf.Push(string(runes[i:min(i+size, len(runes))])))
			}
			b.WriteString(sf.Flush())
			assert.Equal(t, FormatAnswer(text), b.String(), "text %q chunk %d", text, size)
		}
	}
}
