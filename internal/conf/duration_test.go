package conf

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Duration
		want string
	}{
		{"zero", 0, `"0s"`},
		{"probe interval", Duration(30 * time.Second), `"30s"`},
		{"max waiting", Duration(5 * time.Minute), `"5m0s"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))

			var back Duration
			require.NoError(t, json.Unmarshal(b, &back))
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestDuration_UnmarshalJSON_Rejects(t *testing.T) {
	t.Parallel()

	var d Duration
	require.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	require.Error(t, json.Unmarshal([]byte(`true`), &d))
}

func TestDuration_UnmarshalJSON_Null(t *testing.T) {
	t.Parallel()

	d := Duration(time.Minute)
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.Equal(t, Duration(0), d)
}

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	var cfg struct {
		Interval Duration `yaml:"interval"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("interval: 45s\n"), &cfg))
	assert.Equal(t, Duration(45*time.Second), cfg.Interval)

	out, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	assert.Equal(t, "interval: 45s\n", string(out))

	require.Error(t, yaml.Unmarshal([]byte("interval: [1, 2]\n"), &cfg))
	require.Error(t, yaml.Unmarshal([]byte("interval: later\n"), &cfg))
}

func TestDurationDecodeHook(t *testing.T) {
	t.Parallel()

	var target struct {
		Interval Duration
		Timeout  time.Duration
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: DurationDecodeHook(),
		Result:     &target,
	})
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(map[string]any{
		"Interval": "2m",
		"Timeout":  "10s",
	}))
	assert.Equal(t, Duration(2*time.Minute), target.Interval)
	assert.Equal(t, 10*time.Second, target.Timeout)
}
