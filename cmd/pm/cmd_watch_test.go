package main

import "testing"

func TestCaptureFromCommand(t *testing.T) {
	capture := captureFromCommand(`echo '{"app":"editor","title":"main.go","url":""}'`)
	win, err := capture()
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if win.App != "editor" || win.Title != "main.go" || win.URL != "" {
		t.Fatalf("window = %+v", win)
	}
}

func TestCaptureFromCommandFailures(t *testing.T) {
	if _, err := captureFromCommand("exit 3")(); err == nil {
		t.Fatal("failing command must surface an error")
	}
	if _, err := captureFromCommand("echo not-json")(); err == nil {
		t.Fatal("non-JSON output must surface an error")
	}
}
