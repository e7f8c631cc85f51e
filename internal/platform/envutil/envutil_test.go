package envutil

import (
	"testing"
	"time"
)

func TestReaders(t *testing.T) {
	t.Setenv("EU_STR", "  value ")
	t.Setenv("EU_INT", "x12")
	t.Setenv("EU_BOOL", "Yes")
	t.Setenv("EU_DUR_BARE", "90")
	t.Setenv("EU_DUR_GO", "2h")
	t.Setenv("EU_DUR_BAD", "soon")
	t.Setenv("EU_LIST", " .pdf, ,.txt,")
	t.Setenv("EU_LIST_BLANK", " , ")

	if got := String("EU_STR", "d"); got != "value" {
		t.Fatalf("String = %q", got)
	}
	if got := String("EU_UNSET", "d"); got != "d" {
		t.Fatalf("String default = %q", got)
	}
	if got := Int("EU_INT", 7); got != 7 {
		t.Fatalf("Int on garbage = %d", got)
	}
	if !Bool("EU_BOOL", false) {
		t.Fatalf("Bool(Yes) = false")
	}
	if got := Duration("EU_DUR_BARE", 0, time.Second); got != 90*time.Second {
		t.Fatalf("bare duration = %v", got)
	}
	if got := Duration("EU_DUR_GO", 0, time.Second); got != 2*time.Hour {
		t.Fatalf("go duration = %v", got)
	}
	if got := Duration("EU_DUR_BAD", time.Minute, time.Second); got != time.Minute {
		t.Fatalf("bad duration = %v", got)
	}
	if got := List("EU_LIST", nil); len(got) != 2 || got[0] != ".pdf" || got[1] != ".txt" {
		t.Fatalf("List = %q", got)
	}
	if got := List("EU_LIST_BLANK", []string{"d"}); len(got) != 1 || got[0] != "d" {
		t.Fatalf("blank list = %q", got)
	}
}
