package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTimestampedKeepsName(t *testing.T) {
	got := Timestamped("report.pdf")
	require.True(t, strings.HasSuffix(got, "__report.pdf"))
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "", TruncateRunes("abc", 0))
	require.Equal(t, "abc", TruncateRunes("abc", 10))
	require.Equal(t, "héll", TruncateRunes("héllо wörld", 4))
}
