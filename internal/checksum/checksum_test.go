package checksum

import (
	"strings"
	"testing"
)

func TestSum(t *testing.T) {
	// sha256("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := Sum([]byte("abc")); got != want {
		t.Errorf("Sum = %s", got)
	}
}

func TestETag(t *testing.T) {
	tag := ETag([]byte("abc"))
	if tag != `"ba7816bf8f01cfea414140de5dae2223"` {
		t.Errorf("ETag = %s", tag)
	}
	if !strings.HasPrefix(Sum([]byte("abc")), strings.Trim(tag, `"`)) {
		t.Error("ETag should be a prefix of Sum")
	}
	if ETag([]byte("abd")) == tag {
		t.Error("different content, same tag")
	}
}
