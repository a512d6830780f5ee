package iio

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

/*ConnectionPreset names a remote instrument by a short label instead of
its full URI, so both a config file and library consumers can refer to
"rack3-adc" rather than "usb:2.5.0". Decoded with mapstructure out of a
viper-backed config's "presets" list, each entry carrying its own name.*/
type ConnectionPreset struct {
	Name    string        `mapstructure:"name"`
	URI     string        `mapstructure:"uri"`
	Timeout time.Duration `mapstructure:"timeout"`
}

//LoadPresets decodes the "presets" section of v into a name-keyed map of
//ConnectionPreset.
func LoadPresets(v *viper.Viper) (map[string]ConnectionPreset, error) {
	raw := v.Get("presets")
	if raw == nil {
		return map[string]ConnectionPreset{}, nil
	}

	var list []ConnectionPreset
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &list,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to decode presets: %w", err)
	}

	result := make(map[string]ConnectionPreset, len(list))
	for _, p := range list {
		if p.Name == "" {
			return nil, fmt.Errorf("preset without a name: %+v", p)
		}
		if p.Timeout == 0 {
			p.Timeout = 5 * time.Second
		}
		result[p.Name] = p
	}
	return result, nil
}
