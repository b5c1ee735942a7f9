package chatlog

import (
	"testing"
)

func TestLogAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "town")
	l.Log("hello there", "alice")
	l.Log("second line", "bob")
	l.Close()

	entries, err := l.GetLog("", "", "", false)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "hello there" || entries[0].Speaker != "alice" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Speaker != "bob" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestCommasInMessageSurvive(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "town")
	l.Log("one, two, three", "alice")
	l.Close()

	entries, err := l.GetLog("", "", "", false)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Message != "one, two, three" {
		t.Errorf("message = %q", entries[0].Message)
	}
	if entries[0].Speaker != "alice" {
		t.Errorf("speaker = %q", entries[0].Speaker)
	}
}

func TestColorCodesStripped(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "town")
	l.Log("&chello §aworld &zkeep", "alice")
	l.Close()

	entries, err := l.GetLog("", "", "", false)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	// &z is not a color code and stays intact.
	if entries[0].Message != "hello world &zkeep" {
		t.Errorf("message = %q", entries[0].Message)
	}
}

func TestGetLogFilters(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "town")
	l.Log("apples are good", "alice")
	l.Log("bananas are fine", "bob")
	l.Log("apples again", "bob")
	l.Close()

	bySpeaker, err := l.GetLog("Bob", "", "", false)
	if err != nil {
		t.Fatalf("GetLog speaker: %v", err)
	}
	if len(bySpeaker) != 2 {
		t.Errorf("speaker filter: got %d entries, want 2", len(bySpeaker))
	}

	partial, err := l.GetLog("li", "", "", false)
	if err != nil {
		t.Fatalf("GetLog partial speaker: %v", err)
	}
	if len(partial) != 1 || partial[0].Speaker != "alice" {
		t.Errorf("speaker substring filter: %+v", partial)
	}

	byText, err := l.GetLog("", "apples", "", false)
	if err != nil {
		t.Fatalf("GetLog filter: %v", err)
	}
	if len(byText) != 2 {
		t.Errorf("text filter: got %d entries, want 2", len(byText))
	}

	both, err := l.GetLog("bob", "apples", "", false)
	if err != nil {
		t.Fatalf("GetLog both: %v", err)
	}
	if len(both) != 1 || both[0].Message != "apples again" {
		t.Errorf("combined filter: %+v", both)
	}
}

func TestGetLogReverse(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "town")
	l.Log("first", "alice")
	l.Log("last", "alice")
	l.Close()

	entries, err := l.GetLog("", "", "", true)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Message != "last" {
		t.Errorf("reverse order broken: %+v", entries)
	}
}

func TestMissingDayReturnsNothing(t *testing.T) {
	l := New(t.TempDir(), "town")
	defer l.Close()
	entries, err := l.GetLog("", "", "1999-01-01", false)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if entries != nil {
		t.Errorf("expected no entries for an unlogged day, got %v", entries)
	}
}

func TestPersonalStreamNameSanitized(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "alice>bob")
	l.Log("psst", "alice")
	l.Close()

	entries, err := l.GetLog("", "", "", false)
	if err != nil {
		t.Fatalf("GetLog: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "psst" {
		t.Errorf("sanitized stream round trip failed: %+v", entries)
	}
}

func TestParseLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{"", "no commas here", "onlyone,field", "bad time,msg,who"} {
		if _, ok := parseLine(line); ok {
			t.Errorf("parseLine(%q) accepted garbage", line)
		}
	}
}
