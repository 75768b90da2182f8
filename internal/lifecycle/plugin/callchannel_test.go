package plugin

import (
	"errors"
	"os"
	"testing"

	"github.com/distr1/distri-parts/internal/lifecycle/lcerrors"
)

func TestInProcessCallChannelCallDispatchesToHandler(t *testing.T) {
	var gotFunction string
	var gotArgs map[string]interface{}
	ch := InProcessCallChannel{Handler: func(function string, args map[string]interface{}) (string, error) {
		gotFunction = function
		gotArgs = args
		return "", nil
	}}

	feedback, err := ch.Call("build", map[string]interface{}{"target": "all"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if feedback != "" {
		t.Fatalf("feedback = %q, want empty", feedback)
	}
	if gotFunction != "build" {
		t.Fatalf("function = %q, want build", gotFunction)
	}
	if gotArgs["target"] != "all" {
		t.Fatalf("args = %v, want target=all", gotArgs)
	}
}

func TestInProcessCallChannelNonEmptyFeedback(t *testing.T) {
	ch := InProcessCallChannel{Handler: func(string, map[string]interface{}) (string, error) {
		return "function raised an exception", nil
	}}
	feedback, err := ch.Call("stage", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if feedback == "" {
		t.Fatal("feedback should be non-empty when the handler reports an error condition")
	}
}

func TestInProcessCallChannelHandlerError(t *testing.T) {
	wantErr := errors.New("boom")
	ch := InProcessCallChannel{Handler: func(string, map[string]interface{}) (string, error) {
		return "", wantErr
	}}
	if _, err := ch.Call("prime", nil); !errors.Is(err, wantErr) {
		t.Fatalf("Call err = %v, want %v", err, wantErr)
	}
}

func TestNewFIFOCallChannelMissingCallFIFOVar(t *testing.T) {
	_, err := NewFIFOCallChannel(func(string) (string, bool) { return "", false })
	var envErr *lcerrors.Environment
	if !errors.As(err, &envErr) {
		t.Fatalf("err = %v, want *lcerrors.Environment", err)
	}
	if envErr.Variable != "PARTSCTL_CALL_FIFO" {
		t.Fatalf("Variable = %q, want PARTSCTL_CALL_FIFO", envErr.Variable)
	}
}

func TestNewFIFOCallChannelMissingFeedbackFIFOVar(t *testing.T) {
	lookup := func(key string) (string, bool) {
		if key == "PARTSCTL_CALL_FIFO" {
			return "/tmp/call", true
		}
		return "", false
	}
	_, err := NewFIFOCallChannel(lookup)
	var envErr *lcerrors.Environment
	if !errors.As(err, &envErr) {
		t.Fatalf("err = %v, want *lcerrors.Environment", err)
	}
	if envErr.Variable != "PARTSCTL_FEEDBACK_FIFO" {
		t.Fatalf("Variable = %q, want PARTSCTL_FEEDBACK_FIFO", envErr.Variable)
	}
}

func TestNewFIFOCallChannelBothVarsSet(t *testing.T) {
	lookup := func(key string) (string, bool) {
		switch key {
		case "PARTSCTL_CALL_FIFO":
			return "/tmp/call", true
		case "PARTSCTL_FEEDBACK_FIFO":
			return "/tmp/feedback", true
		}
		return "", false
	}
	ch, err := NewFIFOCallChannel(lookup)
	if err != nil {
		t.Fatalf("NewFIFOCallChannel: %v", err)
	}
	if ch.CallFIFO != "/tmp/call" || ch.FeedbackFIFO != "/tmp/feedback" {
		t.Fatalf("ch = %+v, want CallFIFO=/tmp/call FeedbackFIFO=/tmp/feedback", ch)
	}
}

func TestMakeFIFOPairAndServeFIFORoundTrip(t *testing.T) {
	dir := t.TempDir()
	callFIFO, feedbackFIFO, err := MakeFIFOPair(dir)
	if err != nil {
		t.Skipf("mkfifo unavailable in this environment: %v", err)
	}

	stop := make(chan struct{})
	served := make(chan struct{})
	go func() {
		defer close(served)
		ServeFIFO(callFIFO, feedbackFIFO, func(function string, args map[string]interface{}) (string, error) {
			if function != "build" {
				return "unexpected function", nil
			}
			return "", nil
		}, stop)
	}()

	client := &FIFOCallChannel{CallFIFO: callFIFO, FeedbackFIFO: feedbackFIFO}
	feedback, err := client.Call("build", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if feedback != "" {
		t.Fatalf("feedback = %q, want empty", feedback)
	}

	close(stop)
	// wake the blocked read so the server goroutine observes stop and exits.
	if f, err := os.OpenFile(callFIFO, os.O_WRONLY, 0); err == nil {
		f.Close()
	}
	<-served
}
