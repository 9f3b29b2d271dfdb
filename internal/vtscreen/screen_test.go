package vtscreen

import (
	"strings"
	"testing"
)

func TestNewSize(t *testing.T) {
	s := New(80, 24)
	cols, rows := s.Size()
	if cols != 80 {
		t.Errorf("cols = %d, want 80", cols)
	}
	if rows != 24 {
		t.Errorf("rows = %d, want 24", rows)
	}
}

func TestWriteVisible(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("Hello, World!"))

	lines := s.VisibleLines()
	if !strings.Contains(lines[0], "Hello, World!") {
		t.Errorf("lines[0] = %q, want to contain %q", lines[0], "Hello, World!")
	}
}

func TestWriteMultipleLines(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("Line 1\r\nLine 2\r\nLine 3"))

	lines := s.VisibleLines()
	if !strings.Contains(lines[0], "Line 1") {
		t.Errorf("lines[0] = %q, want to contain %q", lines[0], "Line 1")
	}
	if !strings.Contains(lines[1], "Line 2") {
		t.Errorf("lines[1] = %q, want to contain %q", lines[1], "Line 2")
	}
	if !strings.Contains(lines[2], "Line 3") {
		t.Errorf("lines[2] = %q, want to contain %q", lines[2], "Line 3")
	}
}

func TestResizeRebuildsDimensions(t *testing.T) {
	s := New(80, 24)
	s.Resize(120, 40)

	cols, rows := s.Size()
	if cols != 120 || rows != 40 {
		t.Errorf("Size after resize = (%d, %d), want (120, 40)", cols, rows)
	}
}

func TestCursorPosition(t *testing.T) {
	s := New(80, 24)
	row, col := s.CursorPosition()
	if row != 0 || col != 0 {
		t.Errorf("initial cursor = (%d, %d), want (0, 0)", row, col)
	}

	s.Write([]byte("Hello"))
	_, col = s.CursorPosition()
	if col != 5 {
		t.Errorf("col after %q = %d, want 5", "Hello", col)
	}
}

func TestCursorMovementEscape(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("\x1b[5;10H"))

	row, col := s.CursorPosition()
	if row != 4 {
		t.Errorf("row = %d, want 4", row)
	}
	if col != 9 {
		t.Errorf("col = %d, want 9", col)
	}
}

func TestTailAppendsScrollbackThenVisible(t *testing.T) {
	s := NewWithOptions(10, 3, 50, nil)
	s.scrollback = append(s.scrollback, "old-1", "old-2")

	s.Write([]byte("current"))

	tail := s.Tail(0)
	if tail[0] != "old-1" || tail[1] != "old-2" {
		t.Fatalf("expected scrollback first, got %v", tail[:2])
	}
}

func TestTailRespectsLineLimit(t *testing.T) {
	s := NewWithOptions(10, 3, 50, nil)
	s.scrollback = append(s.scrollback, "a", "b", "c", "d", "e")

	tail := s.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(tail), tail)
	}
}

func TestScrollbackEvictsOldestBeyondMax(t *testing.T) {
	s := NewWithOptions(10, 3, 5, nil)
	for i := 0; i < 20; i++ {
		s.captureLine(0)
	}

	stats := s.ScrollbackStats()
	if stats.Lines != 5 {
		t.Errorf("scrollback lines = %d, want 5 (capped)", stats.Lines)
	}
	if stats.EvictedLines != 15 {
		t.Errorf("evicted lines = %d, want 15", stats.EvictedLines)
	}
}

func TestANSIColorsPreserveText(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("\x1b[31mRed text\x1b[0m"))

	lines := s.VisibleLines()
	if !strings.Contains(lines[0], "Red text") {
		t.Errorf("lines[0] should contain %q, got %q", "Red text", lines[0])
	}
}

func TestCellsReflectBoldAttribute(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("\x1b[1mB\x1b[0m"))

	cells := s.Cells()
	if cells[0][0].Char != 'B' {
		t.Fatalf("cells[0][0].Char = %q, want 'B'", cells[0][0].Char)
	}
	if !cells[0][0].Bold {
		t.Error("expected first cell to carry the bold attribute")
	}
}

func TestRenderANSIContainsText(t *testing.T) {
	s := New(80, 24)
	s.Write([]byte("Hello"))

	rendered := s.RenderANSI()
	if !strings.Contains(rendered, "H") {
		t.Error("expected rendered ANSI output to contain the written text")
	}
}
