package tagging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagIsStablePerID(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("bet-%d", i)
		first := Tag("bet", id, 3)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, Tag("bet", id, 3))
		}
		assert.Contains(t, Tags("bet", 3), first)
	}
}

func TestTagsSpreadAcrossPartitions(t *testing.T) {
	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		seen[Tag("market", fmt.Sprintf("m-%d", i), 3)]++
	}
	assert.Len(t, seen, 3)
	for tag, n := range seen {
		assert.Greater(t, n, 30, tag)
	}
}

func TestTagsNaming(t *testing.T) {
	assert.Equal(t, []string{"wallet-tag-0", "wallet-tag-1", "wallet-tag-2"}, Tags("wallet", 3))
	assert.Equal(t, "bet-tag-0", Tag("bet", "anything", 1))
	assert.Equal(t, "bet-tag-0", Tag("bet", "anything", 0))

	tagger := Tagger("bet", 3)
	assert.Equal(t, Tag("bet", "b1", 3), tagger("b1"))
}
