package logging

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
)

// testLogger creates a logger that writes to a buffer for testing
func testLogger() (*bolt.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	handler := bolt.NewJSONHandler(buf)
	logger := bolt.New(handler).SetLevel(bolt.TRACE)
	return logger, buf
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()

	if config.Level != "info" {
		t.Errorf("Level = %s, want info", config.Level)
	}
	if config.Format != "console" {
		t.Errorf("Format = %s, want console", config.Format)
	}
	if config.Output != os.Stderr {
		t.Errorf("Output = %v, want os.Stderr", config.Output)
	}
}

func TestProductionConfig(t *testing.T) {
	t.Parallel()

	config := ProductionConfig()

	if config.Format != "json" {
		t.Errorf("Format = %s, want json", config.Format)
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected bolt.Level
	}{
		{"trace", bolt.TRACE},
		{"debug", bolt.DEBUG},
		{"info", bolt.INFO},
		{"warn", bolt.WARN},
		{"error", bolt.ERROR},
		{"unknown", bolt.INFO},
		{"", bolt.INFO},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%s) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field Field
		want  string
	}{
		{"provider", Provider("aws"), `"provider":"aws"`},
		{"target", Target("aliyun"), `"target":"aliyun"`},
		{"tier", Tier("l2"), `"tier":"l2"`},
		{"key", Key("aws:cost_data:abc"), `"key":"aws:cost_data:abc"`},
		{"task id", TaskID("aws"), `"task_id":"aws"`},
		{"report id", ReportID("r-1"), `"report_id":"r-1"`},
		{"host", Host("ce.us-east-1.amazonaws.com"), `"host":"ce.us-east-1.amazonaws.com"`},
		{"from state", FromState("closed"), `"from_state":"closed"`},
		{"to state", ToState("open"), `"to_state":"open"`},
		{"attempt", Attempt(2), `"attempt":2`},
		{"count", Count("removed", 7), `"removed":7`},
		{"duration", Duration(1500 * time.Millisecond), `"duration_ms":1500`},
		{"delay", Delay(250 * time.Millisecond), `"delay_ms":250`},
		{"float", Float("hit_rate", 0.5, 2), `"hit_rate":"0.50"`},
		{"cached", Cached(true), `"cached":true`},
		{"component", Component("cache"), `"component":"cache"`},
		{"operation", Operation("get"), `"operation":"get"`},
		{"str", Str("custom_key", "custom_value"), `"custom_key":"custom_value"`},
		{"error", ErrorField(errors.New("boom")), `"error":"boom"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, buf := testLogger()
			tt.field(logger.Info()).Msg("test")

			if !bytes.Contains(buf.Bytes(), []byte(tt.want)) {
				t.Errorf("expected %s in output: %s", tt.want, buf.String())
			}
		})
	}
}

func TestKeyFieldTruncates(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	long := string(bytes.Repeat([]byte("k"), 200))
	Key(long)(logger.Info()).Msg("test")

	if bytes.Contains(buf.Bytes(), []byte(long)) {
		t.Error("expected long key to be truncated")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`..."`)) {
		t.Errorf("expected truncation marker in output: %s", buf.String())
	}
}

func TestErrorFieldNil(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()
	ErrorField(nil)(logger.Info()).Msg("test")

	if bytes.Contains(buf.Bytes(), []byte(`"error"`)) {
		t.Errorf("unexpected error field in output: %s", buf.String())
	}
}

func TestLogEvent(t *testing.T) {
	t.Parallel()

	logger, buf := testLogger()

	t.Run("Add chains fields", func(t *testing.T) {
		buf.Reset()
		NewEvent(logger.Info()).Add(Provider("aws")).Add(Tier("l1")).Msg("test")

		if !bytes.Contains(buf.Bytes(), []byte(`"provider":"aws"`)) {
			t.Errorf("expected provider field in output: %s", buf.String())
		}
		if !bytes.Contains(buf.Bytes(), []byte(`"tier":"l1"`)) {
			t.Errorf("expected tier field in output: %s", buf.String())
		}
	})

	t.Run("Send without message", func(t *testing.T) {
		buf.Reset()
		NewEvent(logger.Info()).Add(TaskID("t-2")).Send()

		if !bytes.Contains(buf.Bytes(), []byte(`"task_id":"t-2"`)) {
			t.Errorf("expected task_id field in output: %s", buf.String())
		}
	})
}

func TestNewUsesConfiguredOutput(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	logger := New(Config{Level: "debug", Format: "json", Output: buf})
	logger.Debug().Str("k", "v").Msg("hello")

	if !bytes.Contains(buf.Bytes(), []byte(`"k":"v"`)) {
		t.Errorf("expected field in output: %s", buf.String())
	}
}

func TestGetAndSetLevel(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get() returned nil")
	}
	SetLevel("debug")
	SetLevel("info")
}
