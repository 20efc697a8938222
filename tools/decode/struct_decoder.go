package decode

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Options 定制 Decode 行为
type Options struct {
	// 宽松解码（默认 true）：例如 "123" -> int、1.0 -> int64
	WeaklyTypedInput bool
	TagName          string
}

func DefaultOptions() Options {
	return Options{
		WeaklyTypedInput: true,
		TagName:          "json",
	}
}

// Map 把 map[string]any 解码到目标结构体（事件 data 载荷统一走这里）
func Map(src map[string]any, dst any, opts ...Options) error {
	o := DefaultOptions()
	if len(opts) > 0 {
		o = opts[0]
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           dst,
		WeaklyTypedInput: o.WeaklyTypedInput,
		TagName:          o.TagName,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := dec.Decode(src); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// JSON 先走 json.Unmarshal 到 map，再走 Map；容忍数字类型漂移
func JSON(raw []byte, dst any, opts ...Options) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return errors.WithStack(err)
	}
	return Map(m, dst, opts...)
}
