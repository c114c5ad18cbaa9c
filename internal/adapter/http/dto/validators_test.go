package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStruct(t *testing.T) {
	extra := "  <b>note</b>  "
	s := struct {
		Reason string
		Note   *string
		Count  int
	}{
		Reason: "  <script>alert(1)</script>  ",
		Note:   &extra,
		Count:  3,
	}

	SanitizeStruct(&s)

	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", s.Reason)
	assert.Equal(t, "&lt;b&gt;note&lt;/b&gt;", *s.Note)
	assert.Equal(t, 3, s.Count)
}

func TestSanitizeStruct_NonPointerIsNoop(t *testing.T) {
	s := struct{ Reason string }{Reason: " x "}
	SanitizeStruct(s)
	assert.Equal(t, " x ", s.Reason)
}

func TestValidateSafeID(t *testing.T) {
	valid := []string{"vnpay", "momo_v2", "gw-01", "a.b"}
	invalid := []string{"", "gw 01", "gw;drop", "<x>"}

	for _, v := range valid {
		assert.True(t, safeStringRe.MatchString(v), v)
	}
	for _, v := range invalid {
		assert.False(t, safeStringRe.MatchString(v), v)
	}
}
