package log_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acp0/acp0/libs/log"
)

func TestNewDefaultLogger(t *testing.T) {
	testCases := map[string]struct {
		format    string
		level     string
		expectErr bool
	}{
		"invalid format": {
			format:    "foo",
			level:     log.LogLevelInfo,
			expectErr: true,
		},
		"invalid level": {
			format:    log.LogFormatJSON,
			level:     "foo",
			expectErr: true,
		},
		"valid format and level": {
			format:    log.LogFormatJSON,
			level:     log.LogLevelInfo,
			expectErr: false,
		},
		"plain format": {
			format:    log.LogFormatPlain,
			level:     log.LogLevelDebug,
			expectErr: false,
		},
	}

	for name, tc := range testCases {
		tc := tc

		t.Run(name, func(t *testing.T) {
			_, err := log.NewDefaultLogger(tc.format, tc.level)
			if tc.expectErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestDefaultLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := log.NewDefaultLoggerWithWriter(&buf, log.LogFormatJSON, log.LogLevelInfo)
	require.NoError(t, err)

	logger.With("module", "seller").Info("offer sent", "offer_id", "o-1", "amount", 499900)
	logger.Debug("suppressed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "offer sent", line["message"])
	require.Equal(t, "seller", line["module"])
	require.Equal(t, "o-1", line["offer_id"])
	require.EqualValues(t, 499900, line["amount"])
}

func TestOverrideWithNewLogger(t *testing.T) {
	logger := log.MustNewDefaultLogger(log.LogFormatPlain, log.LogLevelInfo)
	require.NoError(t, log.OverrideWithNewLogger(logger, log.LogFormatJSON, log.LogLevelDebug))
	require.Error(t, log.OverrideWithNewLogger(logger, "yaml", log.LogLevelDebug))
}
