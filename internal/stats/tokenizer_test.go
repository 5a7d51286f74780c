package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestTokenize 去标点、按空白切分、保留大小写
func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"Das", "ist", "super", "oder"}, Tokenize("Das ist super, oder?"))
	assert.Equal(t, []string{"a", "b", "c"}, Tokenize("  a\t\tb \n c  "))
	assert.Empty(t, Tokenize("...!?,,"))
	assert.Empty(t, Tokenize(""))
	assert.Equal(t, []string{"halb3", "geht"}, Tokenize("halb3 geht!"))
}

// TestFindMentions 捕获 @<词> <词> 形式的两词指称
func TestFindMentions(t *testing.T) {
	assert.Equal(t, []string{"Max Mustermann"}, FindMentions("frag mal @Max Mustermann bitte"))
	assert.Equal(t,
		[]string{"Max Mustermann", "Erika Musterfrau"},
		FindMentions("@Max Mustermann und @Erika Musterfrau kommen"))
	assert.Nil(t, FindMentions("keine Adressierung hier"))
	// 第二个词缺失时不算指称
	assert.Nil(t, FindMentions("hey @Max"))
}
