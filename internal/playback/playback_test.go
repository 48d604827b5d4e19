// ABOUTME: Tests for the discard writer used by receive-only sessions
// ABOUTME: Real device output is exercised manually, not in CI
package playback

import "testing"

func TestNullWriter(t *testing.T) {
	var w Null
	n, err := w.Write(make([]byte, 3840))
	if err != nil || n != 3840 {
		t.Errorf("Write = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}
