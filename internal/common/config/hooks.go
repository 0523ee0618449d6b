package config

import (
	"encoding"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// CustomHooks replaces viper's default decode hook, so the defaults it provides
// (durations and comma separated slices) are composed back in here.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		TextUnmarshalerHookFunc(),
	)),
}

// TextUnmarshalerHookFunc decodes strings into any type implementing encoding.TextUnmarshaler,
// e.g. access levels written by name in config files.
func TextUnmarshalerHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// check that src and target types are valid
		if f.Kind() != reflect.String {
			return data, nil
		}
		target := reflect.New(t)
		unmarshaler, ok := target.Interface().(encoding.TextUnmarshaler)
		if !ok {
			return data, nil
		}
		if err := unmarshaler.UnmarshalText([]byte(reflect.ValueOf(data).String())); err != nil {
			return nil, err
		}
		return target.Elem().Interface(), nil
	}
}
