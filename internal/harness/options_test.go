package harness

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	o, err := LoadOptions("testdata/options.yaml")
	require.NoError(t, err)

	assert.Equal(t, Options{
		Timeout:     2 * time.Second,
		Parallelism: 4,
		Checks:      []string{"sequenceOfNextAndComplete", "cancelOnSubscribe"},
		SkipProbes:  []string{"fusedAsyncState"},
		LogLevel:    "debug",
		LogFormat:   "json",
	}, o)

	assert.True(t, o.selects(CancelOnSubscribe))
	assert.False(t, o.selects(ErrorOnSubscribe))
	assert.True(t, o.skips(FusedAsyncState))
	assert.False(t, o.skips(FusedConditionalAsyncState))
	assert.Equal(t, 4, o.parallelism())
}

func TestLoadOptions_MissingFile(t *testing.T) {
	_, err := LoadOptions("testdata/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read options file")
}

func TestParseOptions_Empty(t *testing.T) {
	o, err := ParseOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, Options{}, o)

	assert.True(t, o.selects(SequenceOfNextAndComplete), "no checks selects every check")
	assert.Equal(t, 1, o.parallelism())
}

func TestParseOptions_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "retries: 3\n", "failed to parse YAML"},
		{"malformed", "checks: [\n", "failed to parse YAML"},
		{"negative timeout", "timeout: -1s\n", "timeout must be non-negative"},
		{"negative parallelism", "parallelism: -2\n", "parallelism must be non-negative"},
		{"unknown check", "checks: [sequenceOfEverything]\n", `unknown check "sequenceOfEverything"`},
		{"unknown probe", "skip_probes: [warp]\n", `unknown probe "warp"`},
		{"unknown level", "log_level: loud\n", `unknown log level "loud"`},
		{"unknown format", "log_format: xml\n", "log format must be text or json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, IsOptionsError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOptions_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Options{LogLevel: "info", LogFormat: "json"}.NewLogger(&buf)
	logger.Debug("hidden")
	logger.Info("shown", "probe", "next")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"probe":"next"`)

	buf.Reset()
	Options{LogLevel: "WARN"}.NewLogger(&buf).Warn("careful")
	assert.Contains(t, buf.String(), "msg=careful")

	buf.Reset()
	Options{}.NewLogger(&buf).Error("discarded")
	assert.Empty(t, buf.String(), "no level disables logging")
}
