package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementBalance(t *testing.T) {
	s := &Statement{
		BalanceStart:   dec("1000"),
		BalanceEndReal: dec("1495"),
		Lines: []*StatementLine{
			{Amount: dec("995")},
			{Amount: dec("-500")},
		},
	}
	assert.True(t, s.ComputedBalanceEnd().Equal(dec("1495")))
	assert.True(t, s.IsValid(usd()))

	s.BalanceEndReal = dec("1500")
	assert.False(t, s.IsValid(usd()))

	t.Run("sub-rounding drift tolerated", func(t *testing.T) {
		s.BalanceEndReal = dec("1495.004")
		assert.True(t, s.IsValid(usd()))
	})
}
